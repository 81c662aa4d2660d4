package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prowlkit/prowl/internal/scrape"
)

func importProfile(t *testing.T, s *Store, p Profile) {
	t.Helper()
	data, err := json.Marshal([]Profile{p})
	require.NoError(t, err)
	_, err = s.Import(data)
	require.NoError(t, err)
}

func TestSelectHonorsOverride(t *testing.T) {
	s := newTestStore()
	d := s.Select("example.com", scrape.StrategyStealth)
	assert.Equal(t, scrape.StrategyStealth, d.Method)
	assert.Equal(t, 100.0, d.Confidence)
}

func TestSelectUsesLearnedRates(t *testing.T) {
	s := newTestStore()
	importProfile(t, s, Profile{
		Domain: "example.com",
		SuccessRates: map[scrape.Strategy]float64{
			scrape.StrategyStatic:  0.9,
			scrape.StrategyDynamic: 0.2,
			scrape.StrategyStealth: 0,
		},
		TotalAttempts: 10,
	})

	d := s.Select("example.com", "")
	assert.Equal(t, scrape.StrategyStatic, d.Method)
	assert.GreaterOrEqual(t, d.Confidence, 70.0)
}

func TestSelectFallsBackToHeuristicsBelowThreshold(t *testing.T) {
	// Plenty of attempts but no strategy above 0.7: heuristics decide.
	s := newTestStore()
	importProfile(t, s, Profile{
		Domain: "example.com",
		SuccessRates: map[scrape.Strategy]float64{
			scrape.StrategyStatic:  0.5,
			scrape.StrategyDynamic: 0.4,
			scrape.StrategyStealth: 0.1,
		},
		TotalAttempts: 20,
	})

	d := s.Select("example.com", "")
	assert.Equal(t, scrape.StrategyStatic, d.Method, "clean characteristics should favor the cheap strategy")
	assert.LessOrEqual(t, d.Confidence, 95.0)
}

func TestHeuristicAdjustments(t *testing.T) {
	tests := []struct {
		name string
		ch   Characteristics
		want scrape.Strategy
	}{
		{name: "clean site stays static", ch: Characteristics{}, want: scrape.StrategyStatic},
		{name: "requires js promotes dynamic", ch: Characteristics{RequiresJS: true}, want: scrape.StrategyDynamic},
		{name: "captcha promotes stealth", ch: Characteristics{HasCaptcha: true}, want: scrape.StrategyStealth},
		{
			name: "anti-bot plus rate limit promotes stealth",
			ch:   Characteristics{HasAntiBot: true, HasRateLimit: true},
			want: scrape.StrategyStealth,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := heuristicDecision("example.com", tt.ch)
			assert.Equal(t, tt.want, d.Method)
			assert.LessOrEqual(t, d.Confidence, 95.0)
			assert.NotEmpty(t, d.Reasons)
		})
	}
}

func TestDomainHints(t *testing.T) {
	// linkedin: stealth 30+25=55 edges out static 70-20=50.
	d := heuristicDecision("www.linkedin.com", Characteristics{})
	assert.Equal(t, scrape.StrategyStealth, d.Method)
	assert.Contains(t, d.Reasons[len(d.Reasons)-1], "bot defenses")

	d = heuristicDecision("docs.example.com", Characteristics{RequiresJS: true})
	assert.Equal(t, scrape.StrategyDynamic, d.Method)
}
