package errhandler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"querysight/internal/engine"
)

func newTestHandler(cache CacheFunc, router *FeedbackRouter) *Handler {
	return NewHandler(5*time.Minute, cache, router, zap.NewNop())
}

func TestHandleSchemaAutoRemap(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("schema_error", "FIELD_NOT_FOUND", "field not found: cat")
	p.Data.Context = map[string]any{
		"field":            "cat",
		"available_fields": []string{"category", "brand", "region"},
	}

	rec := h.Handle(p)

	assert.Equal(t, KindSchema, rec.Kind)
	assert.Equal(t, "auto_remap_field", rec.Recovery.Strategy)
	assert.Equal(t, ActionResume, rec.Recovery.NextAction)
	assert.Contains(t, rec.Recovery.AutomatedActions, "map:cat->category")
	assert.Equal(t, map[string]string{"cat": "category"}, rec.Recovery.FieldMapping)
	assert.True(t, strings.HasPrefix(rec.Message, "I found a matching field."))
}

func TestHandleSchemaNoMatchSuggests(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("schema_error", "FIELD_NOT_FOUND", "field not found")
	p.Data.Context = map[string]any{
		"field":            "weather",
		"available_fields": []string{"category", "brand"},
	}

	rec := h.Handle(p)
	assert.Equal(t, "suggest_alternatives", rec.Recovery.Strategy)
	assert.Equal(t, ActionAwaitUser, rec.Recovery.NextAction)
	assert.Contains(t, rec.Recovery.Suggestions[0], "category, brand")
}

func TestHandleSchemaNoFieldsEscalates(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("schema_error", "FIELD_NOT_FOUND", "field not found")
	rec := h.Handle(p)

	assert.Equal(t, "suggest_alternatives", rec.Recovery.Strategy)
	assert.Equal(t, ActionEscalate, rec.Recovery.NextAction)
}

func TestHandleQueryTimeoutRetries(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("query_error", "DB_TIMEOUT", "query timeout after 30 seconds")
	rec := h.Handle(p)

	assert.Equal(t, "retry_with_backoff", rec.Recovery.Strategy)
	assert.Equal(t, ActionResume, rec.Recovery.NextAction)
	assert.Equal(t, []string{"retry:1", "backoff:1s", "reduce_scope"}, rec.Recovery.AutomatedActions)
	assert.Equal(t, 1, rec.Recovery.RetryCount)
	assert.Equal(t, SeverityMedium, rec.Severity)
}

func TestHandleQueryRetryBackoffSchedule(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("query_error", "DB_TIMEOUT_2", "query timeout")
	p.Data.Context = map[string]any{"retry_count": 2}
	rec := h.Handle(p)

	assert.Contains(t, rec.Recovery.AutomatedActions, "retry:3")
	assert.Contains(t, rec.Recovery.AutomatedActions, "backoff:5s")
}

func TestHandleQueryRetriesExhaustedEscalates(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("query_error", "DB_TIMEOUT_3", "query timeout")
	p.Data.Context = map[string]any{"retry_count": 3}
	rec := h.Handle(p)

	assert.Equal(t, "escalate_query_issue", rec.Recovery.Strategy)
	assert.Equal(t, ActionEscalate, rec.Recovery.NextAction)
}

func TestHandleQueryUsesCache(t *testing.T) {
	cached := &engine.NormalizedDataset{OK: true, SQL: "SELECT 1 FROM sales"}
	cache := func(queryID string, ctx map[string]any) (*engine.NormalizedDataset, bool) {
		if queryID == "q_123" {
			return cached, true
		}
		return nil, false
	}
	h := newTestHandler(cache, nil)

	rec := h.Handle(payloadWith("query_error", "DB_TIMEOUT", "query timeout"))

	assert.Equal(t, "use_cached_data", rec.Recovery.Strategy)
	assert.Equal(t, ActionResume, rec.Recovery.NextAction)
	assert.Same(t, cached, rec.Recovery.CachedData)
	assert.Contains(t, rec.Recovery.AutomatedActions, "use_cache:true")
	assert.True(t, strings.HasPrefix(rec.Message, "Using cached results."))
}

func TestHandleChartIncompatibility(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("chart_error", "CHART_MISMATCH", "incompatible chart")
	p.Data.Context = map[string]any{"chart": "pie", "dimension": "date"}
	rec := h.Handle(p)

	assert.Equal(t, "suggest_chart_alternatives", rec.Recovery.Strategy)
	assert.Contains(t, rec.Recovery.AutomatedActions, "suggest_chart:line")
	assert.Contains(t, rec.Recovery.Suggestions[1], "line, bar, area")
	assert.Equal(t, ActionAwaitUser, rec.Recovery.NextAction)
}

func TestHandleChartDefaultAlternatives(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("chart_error", "CHART_MISMATCH", "incompatible chart")
	p.Data.Context = map[string]any{"chart": "heatmap", "dimension": "category"}
	rec := h.Handle(p)

	assert.Contains(t, rec.Recovery.Suggestions[1], "bar, line, table")
}

func TestHandleInputError(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("input_error", "AMBIGUOUS", "ambiguous request")
	p.Data.Context = map[string]any{"missing_params": []string{"time range", "metric"}}
	rec := h.Handle(p)

	assert.Equal(t, "clarify", rec.Recovery.Strategy)
	assert.Equal(t, ActionAwaitUser, rec.Recovery.NextAction)
	assert.Equal(t, "Please specify the time range", rec.Recovery.Suggestions[0])
	assert.Equal(t, SeverityLow, rec.Severity)
	assert.True(t, strings.HasPrefix(rec.Message, "I need more details."))
}

func TestHandleSystemError(t *testing.T) {
	h := newTestHandler(nil, nil)

	rec := h.Handle(payloadWith("system_error", "SVC_DOWN", "service unavailable"))

	assert.Equal(t, "system_failure_handling", rec.Recovery.Strategy)
	assert.Equal(t, ActionEscalate, rec.Recovery.NextAction)
	assert.Equal(t, SeverityCritical, rec.Severity)
	assert.Contains(t, rec.Recovery.AutomatedActions, "escalate:critical")
}

func TestHandleIdempotency(t *testing.T) {
	h := newTestHandler(nil, nil)
	p := payloadWith("query_error", "DB_TIMEOUT", "query timeout")

	first := h.Handle(p)
	second := h.Handle(p)
	assert.Same(t, first, second)

	// A different error code is a new incident.
	other := p
	other.Data.ErrorCode = "DB_DOWN"
	third := h.Handle(other)
	assert.NotSame(t, first, third)
}

func TestHandleIdempotencyExpires(t *testing.T) {
	h := newTestHandler(nil, nil)
	clock := time.Now()
	h.now = func() time.Time { return clock }
	h.idem.now = h.now

	p := payloadWith("query_error", "DB_TIMEOUT", "query timeout")
	first := h.Handle(p)

	clock = clock.Add(6 * time.Minute)
	second := h.Handle(p)
	assert.NotSame(t, first, second)
}

func TestHandleInvalidPayload(t *testing.T) {
	h := newTestHandler(nil, nil)

	p := payloadWith("query_error", "X", "boom")
	p.Data.QueryID = "not-a-query-id"
	rec := h.Handle(p)

	assert.Equal(t, KindValidation, rec.Kind)
	assert.Equal(t, SeverityHigh, rec.Severity)
	assert.Equal(t, ActionAwaitUser, rec.Recovery.NextAction)
}

func TestErrorIDFormat(t *testing.T) {
	h := newTestHandler(nil, nil)
	rec := h.Handle(payloadWith("input_error", "AMBIGUOUS", "ambiguous"))

	parts := strings.Split(rec.ErrorID, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "err", parts[0])
	assert.Len(t, parts[1], 8)
	assert.Len(t, parts[2], 8)
}

func TestRouterFanout(t *testing.T) {
	router := NewFeedbackRouter(zap.NewNop())
	var uiGot, pipelineGot, opsGot []*Record
	router.RegisterUI(func(r *Record) { uiGot = append(uiGot, r) })
	router.RegisterPipeline(func(r *Record) { pipelineGot = append(pipelineGot, r) })
	router.RegisterOps(func(r *Record) { opsGot = append(opsGot, r) })

	h := newTestHandler(nil, router)

	resume := payloadWith("query_error", "DB_TIMEOUT", "query timeout")
	h.Handle(resume)

	escalate := payloadWith("system_error", "SVC_DOWN", "service unavailable")
	h.Handle(escalate)

	await := payloadWith("input_error", "AMBIGUOUS", "ambiguous")
	h.Handle(await)

	assert.Len(t, uiGot, 3)
	assert.Len(t, pipelineGot, 1)
	assert.Len(t, opsGot, 1)
	assert.Equal(t, "retry_with_backoff", pipelineGot[0].Recovery.Strategy)
	assert.Equal(t, "system_failure_handling", opsGot[0].Recovery.Strategy)
}

func TestRouterIsolatesPanickingConsumer(t *testing.T) {
	router := NewFeedbackRouter(zap.NewNop())
	router.RegisterUI(func(r *Record) { panic("ui is broken") })
	var opsGot int
	router.RegisterOps(func(r *Record) { opsGot++ })

	h := newTestHandler(nil, router)
	h.Handle(payloadWith("system_error", "SVC_DOWN", "service unavailable"))

	assert.Equal(t, 1, opsGot)
}

func TestFindFieldMapping(t *testing.T) {
	available := []string{"total_amount", "category", "sale_date", "region"}

	cases := []struct {
		missing string
		want    string
		ok      bool
	}{
		{"Category", "category", true},   // direct, case-insensitive
		{"revenue", "total_amount", true}, // synonym group
		{"cat", "category", true},        // synonym group
		{"date", "sale_date", true},      // synonym group
		{"amount", "total_amount", true}, // containment
		{"weather", "", false},
	}
	for _, tc := range cases {
		got, ok := FindFieldMapping(tc.missing, available)
		assert.Equal(t, tc.ok, ok, "missing %q", tc.missing)
		assert.Equal(t, tc.want, got, "missing %q", tc.missing)
	}
}

func TestChartCompat(t *testing.T) {
	alts, ok := ChartCompat("pie", "date")
	require.True(t, ok)
	assert.Equal(t, []string{"line", "bar", "area"}, alts)

	alts, ok = ChartCompat("Scatter", "SINGLE")
	require.True(t, ok)
	assert.Equal(t, []string{"bar", "line"}, alts)

	_, ok = ChartCompat("bar", "category")
	assert.False(t, ok)
}
