package errhandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func payloadWith(errorType, errorCode, message string) Payload {
	return Payload{
		AgentID:   "query_engine",
		Timestamp: "2026-08-25T10:00:00Z",
		Status:    "error",
		Data: PayloadData{
			ErrorType: errorType,
			ErrorCode: errorCode,
			Message:   message,
			QueryID:   "q_123",
		},
	}
}

func TestClassifyExplicitKind(t *testing.T) {
	kind, conf := Classify(payloadWith("schema_error", "X", "whatever"))
	assert.Equal(t, KindSchema, kind)
	assert.Equal(t, 0.95, conf)
}

func TestClassifyByMessagePattern(t *testing.T) {
	kind, conf := Classify(payloadWith("weird", "X", "no such column: products.cat"))
	assert.Equal(t, KindSchema, kind)
	assert.InDelta(t, 0.6, conf, 1e-9)
}

func TestClassifyByCodePattern(t *testing.T) {
	kind, conf := Classify(payloadWith("weird", "QUERY FAILED", "something broke"))
	assert.Equal(t, KindQuery, kind)
	assert.InDelta(t, 0.4, conf, 1e-9)
}

func TestClassifyMessageAndCodeClamp(t *testing.T) {
	// timeout in the message (0.6) plus two code hits (0.8) exceeds the cap.
	kind, conf := Classify(payloadWith("weird", "timeout execution failed", "query timeout after 30s"))
	assert.Equal(t, KindQuery, kind)
	assert.Equal(t, 0.95, conf)
}

func TestClassifyUnknownDefaultsToValidation(t *testing.T) {
	kind, conf := Classify(payloadWith("weird", "X", "completely novel failure"))
	assert.Equal(t, KindValidation, kind)
	assert.Equal(t, 0.5, conf)
}

func TestClassifyTieFallsToValidation(t *testing.T) {
	// One message hit each for input and chart.
	kind, _ := Classify(payloadWith("weird", "X", "ambiguous request caused rendering failed"))
	assert.Equal(t, KindValidation, kind)
}

func TestClassifyDeterministic(t *testing.T) {
	p := payloadWith("weird", "DB_TIMEOUT", "query timeout")
	k1, c1 := Classify(p)
	for i := 0; i < 10; i++ {
		k, c := Classify(p)
		assert.Equal(t, k1, k)
		assert.Equal(t, c1, c)
	}
}
