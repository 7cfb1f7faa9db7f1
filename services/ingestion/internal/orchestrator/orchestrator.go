package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"
	"digitaltwin/services/ingestion/internal/ingestor"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = telemetry.GetTracer("digitaltwin/ingestion/orchestrator")

type SourceLister interface {
	ListActive(ctx context.Context, sourceType models.SourceType) ([]models.IngestionSource, error)
}

type Runner interface {
	Run(ctx context.Context, source models.IngestionSource) (ingestor.RunResult, error)
}

// Lane schedules every active source of one type at a fixed interval.
type Lane struct {
	SourceType models.SourceType
	Interval   time.Duration
}

type Options struct {
	Lanes         []Lane
	MaxConcurrent int
	SourceTimeout time.Duration
}

type CycleResult struct {
	SourceType models.SourceType
	Sources    int
	Skipped    int
	Failed     int
	Enqueued   int
}

// Orchestrator drives periodic ingestion. Each lane ticks independently and a
// source that is still being scraped from an earlier tick or a manual run is
// skipped rather than run twice.
type Orchestrator struct {
	sources SourceLister
	runner  Runner
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight map[uuid.UUID]struct{}
	cycles   int
	lastRun  *time.Time
	nextRun  map[models.SourceType]time.Time
}

func New(sources SourceLister, runner Runner, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Orchestrator{
		sources:  sources,
		runner:   runner,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: make(map[uuid.UUID]struct{}),
		nextRun:  make(map[models.SourceType]time.Time),
	}
}

// Start launches one goroutine per lane and returns immediately. Each lane
// runs a cycle right away and then on every tick until Stop is called or ctx
// is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true

	for _, lane := range o.opts.Lanes {
		lane := lane
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runLane(o.ctx, lane)
		}()
	}
	o.logger.Info("orchestrator started", zap.Int("lanes", len(o.opts.Lanes)))
	return nil
}

// Stop cancels the lanes and waits for in-flight cycles to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.stopping = true
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	o.mu.Lock()
	o.stopping = false
	o.nextRun = make(map[models.SourceType]time.Time)
	o.mu.Unlock()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) Status() models.OrchestratorStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := models.OrchestratorStatus{
		IsRunning:      o.running,
		CycleInFlight:  o.cycles > 0,
		SourcesInCycle: len(o.inFlight),
	}
	if o.lastRun != nil {
		t := *o.lastRun
		status.LastRunTime = &t
	}
	for _, next := range o.nextRun {
		if status.NextRunTime == nil || next.Before(*status.NextRunTime) {
			t := next
			status.NextRunTime = &t
		}
	}
	return status
}

// TriggerManualRun runs every lane once in the background. Failures are
// logged, never returned. It refuses, returning false, while Stop is waiting
// for running cycles.
func (o *Orchestrator) TriggerManualRun() bool {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		o.logger.Warn("manual run refused, orchestrator is stopping")
		return false
	}
	ctx := o.ctx
	if !o.running || ctx == nil {
		ctx = context.Background()
	}
	lanes := append([]Lane(nil), o.opts.Lanes...)
	// Under mu with stopping unset, no Stop is inside wg.Wait.
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.logger.Info("manual run triggered")
		var g errgroup.Group
		for _, lane := range lanes {
			lane := lane
			g.Go(func() error {
				if _, err := o.RunCycle(ctx, lane.SourceType); err != nil {
					o.logger.Error("manual cycle failed",
						zap.String("source_type", string(lane.SourceType)),
						zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return true
}

func (o *Orchestrator) runLane(ctx context.Context, lane Lane) {
	ticker := time.NewTicker(lane.Interval)
	defer ticker.Stop()

	o.cycle(ctx, lane)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cycle(ctx, lane)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context, lane Lane) {
	if _, err := o.RunCycle(ctx, lane.SourceType); err != nil && ctx.Err() == nil {
		o.logger.Error("periodic cycle failed",
			zap.String("source_type", string(lane.SourceType)),
			zap.Error(err))
	}
	o.mu.Lock()
	if o.running {
		o.nextRun[lane.SourceType] = o.now().Add(lane.Interval)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) acquire(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

// RunCycle scrapes every active source of sourceType with bounded
// concurrency. Per-source failures are logged and counted; only a failure to
// list the sources is returned.
func (o *Orchestrator) RunCycle(ctx context.Context, sourceType models.SourceType) (CycleResult, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.RunCycle")
	defer span.End()
	span.SetAttributes(telemetry.String("source.type", string(sourceType)))

	result := CycleResult{SourceType: sourceType}
	sources, err := o.sources.ListActive(ctx, sourceType)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	result.Sources = len(sources)

	o.mu.Lock()
	o.cycles++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cycles--
		t := o.now()
		o.lastRun = &t
		o.mu.Unlock()
	}()

	var skipped, failed, enqueued int64
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrent)
	for _, source := range sources {
		source := source
		if !o.acquire(source.ID) {
			skipped++
			o.logger.Debug("source already in flight, skipping",
				zap.String("source_id", source.ID.String()))
			continue
		}
		g.Go(func() error {
			defer o.release(source.ID)
			if ctx.Err() != nil {
				return nil
			}
			runCtx := ctx
			if o.opts.SourceTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, o.opts.SourceTimeout)
				defer cancel()
			}
			res, err := o.runner.Run(runCtx, source)
			atomic.AddInt64(&enqueued, int64(res.Enqueued))
			if err != nil || res.DeadLettered {
				atomic.AddInt64(&failed, 1)
			}
			if err != nil {
				o.logger.Error("source run failed",
					zap.String("source_id", source.ID.String()),
					zap.String("source_name", source.SourceName),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Skipped = int(skipped)
	result.Failed = int(atomic.LoadInt64(&failed))
	result.Enqueued = int(atomic.LoadInt64(&enqueued))
	span.SetAttributes(
		telemetry.Int("sources", result.Sources),
		telemetry.Int("skipped", result.Skipped),
		telemetry.Int("failed", result.Failed),
	)
	o.logger.Info("ingestion cycle finished",
		zap.String("source_type", string(sourceType)),
		zap.Int("sources", result.Sources),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("enqueued", result.Enqueued))
	return result, nil
}
