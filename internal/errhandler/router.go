package errhandler

import (
	"sync"

	"go.uber.org/zap"
)

// Consumer receives routed feedback records.
type Consumer func(*Record)

// FeedbackRouter fans handled errors out to its registered consumers: the
// UI always, the pipeline on resume, ops on escalate. A consumer that
// panics is logged and never affects the others.
type FeedbackRouter struct {
	mu       sync.RWMutex
	ui       Consumer
	pipeline Consumer
	ops      Consumer
	logger   *zap.Logger
}

func NewFeedbackRouter(logger *zap.Logger) *FeedbackRouter {
	return &FeedbackRouter{logger: logger.Named("feedback")}
}

func (r *FeedbackRouter) RegisterUI(c Consumer)       { r.set(&r.ui, c) }
func (r *FeedbackRouter) RegisterPipeline(c Consumer) { r.set(&r.pipeline, c) }
func (r *FeedbackRouter) RegisterOps(c Consumer)      { r.set(&r.ops, c) }

func (r *FeedbackRouter) set(slot *Consumer, c Consumer) {
	r.mu.Lock()
	*slot = c
	r.mu.Unlock()
}

// Route delivers the record per its next action.
func (r *FeedbackRouter) Route(rec *Record) {
	r.mu.RLock()
	ui, pipeline, ops := r.ui, r.pipeline, r.ops
	r.mu.RUnlock()

	r.deliver("ui", ui, rec)
	switch rec.Recovery.NextAction {
	case ActionResume:
		r.deliver("pipeline", pipeline, rec)
	case ActionEscalate:
		r.deliver("ops", ops, rec)
	}
}

func (r *FeedbackRouter) deliver(name string, c Consumer, rec *Record) {
	if c == nil {
		return
	}
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("feedback consumer panicked",
				zap.String("consumer", name), zap.Any("panic", err))
		}
	}()
	c(rec)
}
