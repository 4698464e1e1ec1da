package pipeline

import (
	"context"
	"time"

	"kw-listing/internal/config"
	"kw-listing/internal/logging"
)

// Engine runs the individual pipeline stages against one TextService.
// Every stage reports start and outcome through the logger; a nil logger
// is a silent observer.
type Engine struct {
	svc     TextService
	cfg     config.PipelineConfig
	logger  *logging.Logger
	session string
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEngine(svc TextService, cfg config.PipelineConfig, logger *logging.Logger, session string) *Engine {
	return &Engine{
		svc:     svc,
		cfg:     cfg.WithDefaults(),
		logger:  logger,
		session: session,
		sleep:   sleepContext,
	}
}

func (e *Engine) Config() config.PipelineConfig {
	return e.cfg
}

func (e *Engine) emit(ev logging.Event) {
	ev.Session = e.session
	e.logger.Emit(ev)
}

func (e *Engine) stageStart(stage, msg string) time.Time {
	e.emit(logging.Event{Event: "stage_start", Stage: stage, Message: msg})
	return time.Now()
}

func (e *Engine) stageOK(stage string, start time.Time, count int, msg string) {
	e.emit(logging.Event{Event: "stage_ok", Stage: stage, Count: count, LatencyMS: time.Since(start).Milliseconds(), Message: msg})
}

func (e *Engine) stageSkip(stage string, reason SkipReason, err error, msg string) {
	ev := logging.Event{Level: "warn", Event: "stage_skip", Stage: stage, Message: msg + "（" + string(reason) + "）"}
	if err != nil {
		ev.Error = err.Error()
	}
	e.emit(ev)
}

func (e *Engine) stageFailed(stage string, err error, msg string) {
	e.emit(logging.Event{Level: "error", Event: "stage_failed", Stage: stage, Message: msg, Error: err.Error()})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
