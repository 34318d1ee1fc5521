// Package pipeline drives a submitted prompt through parse, execution, and
// artifact synthesis, maintaining the job in the registry as it goes. Stage
// failures are reported to the error handler and its directive decides
// whether the stage retries, the job fails with guidance, or ops is pulled
// in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"querysight/internal/catalog"
	"querysight/internal/engine"
	"querysight/internal/errhandler"
	"querysight/internal/jobs"
	"querysight/internal/parse"
	"querysight/internal/synth"
)

// Progress checkpoints per stage.
const (
	progressStarted   = 10
	progressParsed    = 25
	progressExecuted  = 50
	progressValidated = 75
)

// Agent ids reported to the error handler per failing stage.
const (
	sourceParser = "input_parser"
	sourceEngine = "query_engine"
)

var errNoDataset = errors.New("query execution produced no dataset")

// Orchestrator runs one worker goroutine per submitted job. Stages within a
// job are strictly sequential; cancellation is observed between stages.
type Orchestrator struct {
	parser  *parse.Parser
	eng     *engine.Engine
	synth   *synth.Synthesizer
	handler *errhandler.Handler
	cat     *catalog.Catalog
	reg     *jobs.Registry
	logger  *zap.Logger
	sleep   func(time.Duration)
	now     func() time.Time
}

func New(parser *parse.Parser, eng *engine.Engine, syn *synth.Synthesizer,
	handler *errhandler.Handler, cat *catalog.Catalog, reg *jobs.Registry,
	logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		parser:  parser,
		eng:     eng,
		synth:   syn,
		handler: handler,
		cat:     cat,
		reg:     reg,
		logger:  logger.Named("pipeline"),
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Submit registers a job for the prompt and starts its worker.
func (o *Orchestrator) Submit(prompt string) jobs.Job {
	job := o.reg.Create(prompt)
	go o.Run(context.Background(), job.ID, job.Prompt)
	return job
}

// Run drives the job through its stages. It is the worker body; Submit
// callers get it on a goroutine, tests may call it directly.
func (o *Orchestrator) Run(ctx context.Context, jobID, prompt string) {
	if o.cancelled(jobID) {
		return
	}
	if err := o.reg.SetStatus(jobID, jobs.StatusProcessing); err != nil {
		// Cancelled while pending.
		return
	}
	o.setProgress(jobID, progressStarted)
	qid := queryID(jobID)

	res, err := o.parser.Parse(ctx, prompt)
	if err != nil {
		rec := o.report(sourceParser, qid, err, nil)
		o.failJob(jobID, rec)
		return
	}
	o.setProgress(jobID, progressParsed)
	if o.cancelled(jobID) {
		return
	}

	ds, finished := o.executeStage(ctx, jobID, qid, res.Intent)
	if finished {
		return
	}
	o.setProgress(jobID, progressExecuted)
	if o.cancelled(jobID) {
		return
	}

	if !ds.OK {
		rec := o.report(sourceEngine, qid, errNoDataset, nil)
		o.failJob(jobID, rec)
		return
	}
	// Zero rows still get an artifact; the chart config is populated either way.
	o.setProgress(jobID, progressValidated)
	if o.cancelled(jobID) {
		return
	}
	ds = o.demoteChart(res.Intent, ds)

	art, err := o.synth.Generate(ctx, ds, prompt)
	if err != nil {
		// Artifact failures never round-trip through the error handler;
		// the deterministic fallback ships instead.
		o.logger.Warn("artifact generation failed, using fallback",
			zap.String("job_id", jobID), zap.Error(err))
		art = synth.Fallback(ds, err.Error())
	}

	if err := o.reg.Complete(jobID, jobs.Result{
		ArtifactCode: art.Code,
		ArtifactName: art.Name,
		ChartType:    art.ChartType,
	}); err != nil {
		o.logger.Warn("failed to complete job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	o.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.String("chart_type", art.ChartType))
}

// executeStage runs the query engine with at most one handler-directed
// retry. finished reports that the job was already finalized (failed or
// cancelled) and the caller must stop.
func (o *Orchestrator) executeStage(ctx context.Context, jobID, qid string,
	intent engine.ResolvedIntent) (ds *engine.NormalizedDataset, finished bool) {
	retried := false
	attempt := 0
	for {
		ds, err := o.eng.Execute(ctx, intent)
		if err == nil {
			return ds, false
		}

		extra := map[string]any{
			"retry_count": attempt,
			"cache_key":   engine.CacheKey(intent),
		}
		if field, ok := missingField(err); ok {
			extra["field"] = field
			extra["available_fields"] = o.availableFields(ctx)
		}
		rec := o.report(sourceEngine, qid, err, extra)

		if rec.Recovery.NextAction != errhandler.ActionResume || retried {
			o.failJob(jobID, rec)
			return nil, true
		}
		retried = true
		attempt++

		if rec.Recovery.CachedData != nil {
			return rec.Recovery.CachedData, false
		}
		if len(rec.Recovery.FieldMapping) > 0 {
			intent = remapIntent(intent, rec.Recovery.FieldMapping)
		}
		if d := backoffDelay(rec.Recovery.AutomatedActions); d > 0 {
			o.sleep(d)
		}
		if o.cancelled(jobID) {
			return nil, true
		}
	}
}

// timeShapeDimensions mark intent dimensions that put time on the x axis.
var timeShapeDimensions = map[string]bool{
	"month": true, "year": true, "quarter": true, "week": true,
	"day": true, "date": true, "time": true, "sale_date": true,
}

// datasetShape classifies the result for the chart compatibility matrix.
func datasetShape(intent engine.ResolvedIntent, ds *engine.NormalizedDataset) string {
	if timeShapeDimensions[strings.ToLower(intent.Dimension)] || ds.Summary.HasTimeAxis {
		return "date"
	}
	if len(ds.Rows) <= 1 || len(ds.ColumnOrder) <= 1 {
		return "single"
	}
	return "category"
}

// demoteChart swaps an incompatible chart type for the matrix's first
// alternative, on a copy so the cached dataset keeps its original config.
func (o *Orchestrator) demoteChart(intent engine.ResolvedIntent, ds *engine.NormalizedDataset) *engine.NormalizedDataset {
	shape := datasetShape(intent, ds)
	alts, ok := errhandler.ChartCompat(ds.ChartConfig.ChartType, shape)
	if !ok || len(alts) == 0 {
		return ds
	}
	demoted := *ds
	demoted.ChartConfig.ChartType = alts[0]
	o.logger.Info("chart type demoted",
		zap.String("from", ds.ChartConfig.ChartType),
		zap.String("to", demoted.ChartConfig.ChartType),
		zap.String("shape", shape))
	return &demoted
}

// report wraps a stage error into the handler's payload contract.
func (o *Orchestrator) report(source, qid string, err error, extra map[string]any) *errhandler.Record {
	return o.handler.Handle(errhandler.Payload{
		AgentID:   source,
		Timestamp: o.now().UTC().Format(time.RFC3339),
		Status:    "error",
		Data: errhandler.PayloadData{
			ErrorType: string(kindFor(err)),
			ErrorCode: codeFor(err),
			Message:   err.Error(),
			Context:   extra,
			QueryID:   qid,
		},
	})
}

func (o *Orchestrator) failJob(jobID string, rec *errhandler.Record) {
	msg := rec.Message
	if len(rec.Recovery.Suggestions) > 0 {
		msg += " Suggestions: " + strings.Join(rec.Recovery.Suggestions, "; ")
	}
	if err := o.reg.Fail(jobID, msg); err != nil {
		o.logger.Warn("failed to fail job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	o.logger.Info("job failed",
		zap.String("job_id", jobID),
		zap.String("error_id", rec.ErrorID),
		zap.String("next_action", string(rec.Recovery.NextAction)))
}

// cancelled finalizes a requested cancel and reports whether the worker
// must stop.
func (o *Orchestrator) cancelled(jobID string) bool {
	if !o.reg.CancelRequested(jobID) {
		return false
	}
	if err := o.reg.MarkCancelled(jobID); err == nil {
		o.logger.Info("job cancelled", zap.String("job_id", jobID))
	}
	return true
}

func (o *Orchestrator) setProgress(jobID string, progress int) {
	if err := o.reg.SetProgress(jobID, progress); err != nil {
		o.logger.Warn("failed to set progress", zap.String("job_id", jobID), zap.Error(err))
	}
}

// availableFields flattens the catalog into a sorted unique column list for
// the handler's remap search.
func (o *Orchestrator) availableFields(ctx context.Context) []string {
	snap, err := o.cat.Snapshot(ctx)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, table := range snap.Tables {
		for _, col := range table.Columns {
			seen[col.Name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for name := range seen {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

func kindFor(err error) errhandler.Kind {
	switch {
	case errors.Is(err, parse.ErrLowConfidence), errors.Is(err, parse.ErrUnderspecified):
		return errhandler.KindInput
	case errors.Is(err, engine.ErrUnsafeSQL):
		return errhandler.KindValidation
	case errors.Is(err, engine.ErrNoCatalog):
		return errhandler.KindSchema
	}
	msg := err.Error()
	if strings.Contains(msg, "no such column") || strings.Contains(msg, "no such table") {
		return errhandler.KindSchema
	}
	return errhandler.KindQuery
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, parse.ErrLowConfidence):
		return "LOW_CONFIDENCE"
	case errors.Is(err, parse.ErrUnderspecified):
		return "INCOMPLETE_PROMPT"
	case errors.Is(err, engine.ErrUnsafeSQL):
		return "UNSAFE_SQL"
	case errors.Is(err, engine.ErrNoCatalog):
		return "NO_CATALOG"
	case errors.Is(err, errNoDataset):
		return "NO_DATASET"
	}
	if field, ok := missingField(err); ok {
		return "MISSING_FIELD:" + field
	}
	return "EXECUTION_FAILED"
}

var missingFieldRe = regexp.MustCompile(`no such (?:column|table): ([\w.]+)`)

// missingField pulls the unresolvable identifier out of an execution error,
// stripped of any table qualifier.
func missingField(err error) (string, bool) {
	m := missingFieldRe.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	field := m[1]
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return field, true
}

// remapIntent applies handler field substitutions to a fresh copy of the
// intent.
func remapIntent(intent engine.ResolvedIntent, mapping map[string]string) engine.ResolvedIntent {
	filters := make([]engine.Filter, len(intent.Filters))
	copy(filters, intent.Filters)
	intent.Filters = filters

	for old, next := range mapping {
		if strings.EqualFold(intent.Metric, old) {
			intent.Metric = next
		}
		if strings.EqualFold(intent.Dimension, old) {
			intent.Dimension = next
		}
		for i := range intent.Filters {
			if strings.EqualFold(intent.Filters[i].Column, old) {
				intent.Filters[i].Column = next
			}
		}
	}
	return intent
}

// backoffDelay reads the handler's backoff directive out of the automated
// actions.
func backoffDelay(actions []string) time.Duration {
	for _, a := range actions {
		var secs int
		if _, err := fmt.Sscanf(a, "backoff:%ds", &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// queryID derives the handler-facing query id from the job id.
func queryID(jobID string) string {
	return "q_" + strings.ReplaceAll(jobID, "-", "")
}
