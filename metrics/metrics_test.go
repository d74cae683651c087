package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOutcomeIncrementsRequestsTotal(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai-main", "gpt-4o", "ok"))
	ObserveOutcome("openai-main", "gpt-4o", "ok", false, 0.25, nil)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai-main", "gpt-4o", "ok"))

	assert.Equal(t, before+1, after)
}

func TestObserveUsageAddsTokensAndCost(t *testing.T) {
	before := testutil.ToFloat64(TokensTotal.WithLabelValues("openai-main", "gpt-4o", "input"))
	ObserveUsage("openai-main", "gpt-4o", 100, 50, 0, 0, 0, 0.01)
	after := testutil.ToFloat64(TokensTotal.WithLabelValues("openai-main", "gpt-4o", "input"))

	assert.Equal(t, before+100, after)
}
