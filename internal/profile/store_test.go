package profile

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/scrape"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore() *Store {
	return NewStore(fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, zap.NewNop())
}

func TestRecordOutcomeCountsAttempts(t *testing.T) {
	s := newTestStore()

	s.RecordOutcome("example.com", scrape.StrategyStatic, true, "")
	s.RecordOutcome("example.com", scrape.StrategyStatic, true, "")
	s.RecordOutcome("example.com", scrape.StrategyStatic, false, "unexpected status 500")

	p, ok := s.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, 3, p.TotalAttempts)
	for _, rate := range p.SuccessRates {
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
	assert.InDelta(t, 2.0/3.0, p.SuccessRates[scrape.StrategyStatic], 0.001)
	assert.Equal(t, scrape.StrategyStatic, p.OptimalStrategy)
}

func TestRecordOutcomeFlipsCharacteristics(t *testing.T) {
	tests := []struct {
		name    string
		errText string
		check   func(t *testing.T, ch Characteristics)
	}{
		{
			name:    "forbidden flips anti-bot",
			errText: "static fetch blocked (status 403): access denied",
			check:   func(t *testing.T, ch Characteristics) { assert.True(t, ch.HasAntiBot) },
		},
		{
			name:    "captcha flips captcha flag",
			errText: "recaptcha challenge detected",
			check:   func(t *testing.T, ch Characteristics) { assert.True(t, ch.HasCaptcha) },
		},
		{
			name:    "rate limit flips rate-limit flag",
			errText: "429 too many requests",
			check:   func(t *testing.T, ch Characteristics) { assert.True(t, ch.HasRateLimit) },
		},
		{
			name:    "timeout flips requires-js",
			errText: "navigation timeout waiting for content",
			check:   func(t *testing.T, ch Characteristics) { assert.True(t, ch.RequiresJS) },
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			domain := fmt.Sprintf("site%d.example", i)
			s.RecordOutcome(domain, scrape.StrategyStatic, false, tt.errText)
			p, ok := s.Get(domain)
			require.True(t, ok)
			tt.check(t, p.Characteristics)
			assert.Equal(t, DifficultyMedium, p.Characteristics.Difficulty)
			require.Len(t, p.RecentFailures, 1)
		})
	}
}

func TestRecentFailuresBounded(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 25; i++ {
		s.RecordOutcome("example.com", scrape.StrategyStatic, false, fmt.Sprintf("failure %d", i))
	}
	p, _ := s.Get("example.com")
	assert.Len(t, p.RecentFailures, 10)
	assert.Equal(t, "failure 24", p.RecentFailures[9])
	assert.Equal(t, 25, p.TotalAttempts)
}

func TestRecordOutcomeConcurrentSameDomain(t *testing.T) {
	s := newTestStore()
	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.RecordOutcome("example.com", scrape.StrategyDynamic, success, "timeout")
			}
		}(g%2 == 0)
	}
	wg.Wait()

	p, _ := s.Get("example.com")
	assert.Equal(t, goroutines*perGoroutine, p.TotalAttempts)
	assert.GreaterOrEqual(t, p.SuccessRates[scrape.StrategyDynamic], 0.0)
	assert.LessOrEqual(t, p.SuccessRates[scrape.StrategyDynamic], 1.0)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore()
	s.RecordOutcome("a.example", scrape.StrategyStatic, true, "")
	s.RecordOutcome("b.example", scrape.StrategyStealth, false, "captcha detected")

	data, err := s.Export()
	require.NoError(t, err)

	fresh := newTestStore()
	n, err := fresh.Import(data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, ok := fresh.Get("a.example")
	require.True(t, ok)
	assert.Equal(t, 1, a.TotalAttempts)

	b, ok := fresh.Get("b.example")
	require.True(t, ok)
	assert.True(t, b.Characteristics.HasCaptcha)
}

func TestClear(t *testing.T) {
	s := newTestStore()
	s.RecordOutcome("a.example", scrape.StrategyStatic, true, "")
	assert.True(t, s.Clear("a.example"))
	assert.False(t, s.Clear("a.example"))
	_, ok := s.Get("a.example")
	assert.False(t, ok)
}
