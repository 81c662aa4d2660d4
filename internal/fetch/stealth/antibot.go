package stealth

import (
	"bytes"
	"strings"
)

// BotScan is the result of the post-load anti-bot signature sweep.
type BotScan struct {
	Confidence float64 // 0-1, likelihood the page is a bot wall
	Indicators []string
}

// Detected reports whether the page is confidently a bot wall.
func (s BotScan) Detected() bool { return s.Confidence >= 0.5 }

// Known CDN/WAF challenge markers, weighted by how unambiguous they are.
var botSignatures = []struct {
	marker string
	weight float64
}{
	{"cf-browser-verification", 0.9},
	{"cf_chl_opt", 0.9},
	{"turnstile", 0.6},
	{"datadome", 0.8},
	{"perimeterx", 0.8},
	{"_px-captcha", 0.8},
	{"akamai-bot-manager", 0.8},
	{"incapsula", 0.7},
	{"checking your browser", 0.8},
	{"verify you are human", 0.8},
	{"access denied", 0.6},
	{"rate limit", 0.5},
	{"too many requests", 0.5},
	{"enable javascript and cookies", 0.5},
	{"unusual traffic", 0.7},
}

// ScanForBotWall inspects rendered HTML for anti-bot signatures and returns
// a confidence score. Tiny bodies dominated by a challenge script are a
// strong signal on their own.
func ScanForBotWall(body []byte) BotScan {
	if len(body) == 0 {
		return BotScan{Confidence: 0.5, Indicators: []string{"empty body"}}
	}
	lower := bytes.ToLower(body)

	var scan BotScan
	for _, sig := range botSignatures {
		if bytes.Contains(lower, []byte(sig.marker)) {
			scan.Indicators = append(scan.Indicators, sig.marker)
			if sig.weight > scan.Confidence {
				scan.Confidence = sig.weight
			}
		}
	}

	// JS-challenge heuristic: a near-empty page that immediately reloads
	// itself is an interstitial even without a recognized vendor marker.
	if len(body) < 4096 && bytes.Contains(lower, []byte("http-equiv=\"refresh\"")) {
		scan.Indicators = append(scan.Indicators, "meta refresh on tiny body")
		if scan.Confidence < 0.6 {
			scan.Confidence = 0.6
		}
	}
	return scan
}

// IndicatorSummary joins the scan's indicators for error text.
func (s BotScan) IndicatorSummary() string {
	return strings.Join(s.Indicators, ", ")
}
