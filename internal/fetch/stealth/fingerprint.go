package stealth

import (
	"math/rand/v2"
)

// Fingerprint is one randomized browser identity: viewport, locale,
// timezone, platform, and user agent are kept mutually consistent so the
// combination survives basic consistency checks.
type Fingerprint struct {
	UserAgent string
	Width     int64
	Height    int64
	Locale    string
	Timezone  string
	Platform  string
}

// The pool mixes current desktop Chrome/Firefox builds across the three
// major platforms. Entries are full identities, not independently drawn
// attributes.
var fingerprintPool = []Fingerprint{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:     1920, Height: 1080,
		Locale: "en-US", Timezone: "America/New_York", Platform: "Win32",
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		Width:     1536, Height: 864,
		Locale: "en-GB", Timezone: "Europe/London", Platform: "Win32",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:     1440, Height: 900,
		Locale: "en-US", Timezone: "America/Los_Angeles", Platform: "MacIntel",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		Width:     1680, Height: 1050,
		Locale: "en-US", Timezone: "America/Chicago", Platform: "MacIntel",
	},
	{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Width:     1920, Height: 1200,
		Locale: "en-US", Timezone: "Europe/Berlin", Platform: "Linux x86_64",
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		Width:     1366, Height: 768,
		Locale: "en-US", Timezone: "America/Denver", Platform: "Win32",
	},
}

// RandomFingerprint draws one identity from the pool.
func RandomFingerprint() Fingerprint {
	return fingerprintPool[rand.IntN(len(fingerprintPool))]
}

// stealthScript is evaluated on every new document before page scripts run.
// It suppresses the automation telltales headless Chrome leaks.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
const origQuery = window.navigator.permissions && window.navigator.permissions.query;
if (origQuery) {
  window.navigator.permissions.query = (parameters) => (
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : origQuery(parameters)
  );
}
`
