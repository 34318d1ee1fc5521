package errhandler

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var queryIDRe = regexp.MustCompile(`^[qQ]_\w+$`)

// Handler runs the fixed handling stages: validate, idempotency check,
// ingress, classify, analyze, decide recovery, message, route.
type Handler struct {
	validate *validator.Validate
	idem     *idempotencyStore
	cache    CacheFunc
	router   *FeedbackRouter
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler builds the handler. cache may be nil when no result cache is
// available; router may be nil when nothing consumes feedback.
func NewHandler(idemTTL time.Duration, cache CacheFunc, router *FeedbackRouter, logger *zap.Logger) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("query_id", func(fl validator.FieldLevel) bool {
		return queryIDRe.MatchString(fl.Field().String())
	})
	return &Handler{
		validate: v,
		idem:     newIdempotencyStore(idemTTL),
		cache:    cache,
		router:   router,
		logger:   logger.Named("errhandler"),
		now:      time.Now,
	}
}

// Handle processes one error payload and returns the resulting record.
// Duplicate (query_id, error_code) payloads within the TTL return the prior
// record unchanged. An invalid payload surfaces immediately as a high
// severity validation record.
func (h *Handler) Handle(p Payload) *Record {
	if err := h.validate.Struct(p); err != nil {
		rec := h.invalidPayloadRecord(p, err)
		h.route(rec)
		return rec
	}

	if prior, ok := h.idem.get(p.Data.QueryID, p.Data.ErrorCode); ok {
		h.logger.Info("duplicate error report, reusing prior record",
			zap.String("query_id", p.Data.QueryID),
			zap.String("error_code", p.Data.ErrorCode))
		return prior
	}

	now := h.now()
	rec := &Record{
		ErrorID:          h.errorID(p, now),
		Source:           p.AgentID,
		QueryID:          p.Data.QueryID,
		Timestamp:        now,
		ContextPreserved: true,
	}

	kind, confidence := Classify(p)
	rec.Kind = kind
	rec.Confidence = confidence

	analysis := Analyze(kind, p.Data)
	rec.RootCause = analysis.RootCause
	rec.Severity = analysis.Severity

	rec.Recovery = decideRecovery(kind, p, analysis, h.cache)
	rec.Message = buildMessage(kind, analysis.RootCause, rec.Recovery)

	h.idem.put(p.Data.QueryID, p.Data.ErrorCode, rec)
	h.route(rec)

	h.logger.Info("error handled",
		zap.String("error_id", rec.ErrorID),
		zap.String("kind", string(rec.Kind)),
		zap.String("strategy", rec.Recovery.Strategy),
		zap.String("next_action", string(rec.Recovery.NextAction)))
	return rec
}

func (h *Handler) route(rec *Record) {
	if h.router != nil {
		h.router.Route(rec)
	}
}

func (h *Handler) invalidPayloadRecord(p Payload, err error) *Record {
	now := h.now()
	return &Record{
		ErrorID:          h.errorID(p, now),
		Kind:             KindValidation,
		Source:           p.AgentID,
		Severity:         SeverityHigh,
		Confidence:       explicitConfidence,
		RootCause:        fmt.Sprintf("Invalid error payload: %v", err),
		Message:          "Invalid data: the error report itself is malformed. Check the payload shape",
		QueryID:          p.Data.QueryID,
		Timestamp:        now,
		ContextPreserved: true,
		Recovery: Recovery{
			Strategy:   "provide_validation_help",
			NextAction: ActionAwaitUser,
			Suggestions: []string{
				"Error payloads need agent_id, timestamp, status, and data fields",
				"query_id must match q_<identifier>",
			},
		},
	}
}

// errorID derives the deterministic-format id err_YYYYMMDD_<hash8> from the
// payload and handling time.
func (h *Handler) errorID(p Payload, now time.Time) string {
	raw, _ := json.Marshal(p)
	sum := md5.Sum([]byte(now.Format(time.RFC3339Nano) + string(raw)))
	return fmt.Sprintf("err_%s_%x", now.Format("20060102"), sum[:4])
}
