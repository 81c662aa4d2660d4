package scrape

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "server busy", err: ErrServerBusy, want: false},
		{name: "blocked", err: &BlockedError{URL: "u", Strategy: StrategyStatic, StatusCode: 403, Indicator: "forbidden"}, want: false},
		{name: "5xx", err: &HTTPStatusError{URL: "u", StatusCode: 503}, want: true},
		{name: "4xx", err: &HTTPStatusError{URL: "u", StatusCode: 404}, want: false},
		{name: "wrapped timeout text", err: fmt.Errorf("visit: %w", errors.New("i/o timeout")), want: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCascadeErrorAggregates(t *testing.T) {
	blocked := &BlockedError{URL: "u", Strategy: StrategyStatic, StatusCode: 403, Indicator: "access denied"}
	cascade := &CascadeError{
		URL: "https://example.com",
		Attempts: []AttemptError{
			{Strategy: StrategyStatic, Err: blocked},
			{Strategy: StrategyDynamic, Err: errors.New("nav timeout")},
		},
	}

	assert.Contains(t, cascade.Error(), "static")
	assert.Contains(t, cascade.Error(), "dynamic")
	assert.True(t, IsBlocked(cascade), "errors.As should find the blocked attempt")
}
