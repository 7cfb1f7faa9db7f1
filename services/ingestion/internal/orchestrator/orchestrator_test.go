package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/services/ingestion/internal/ingestor"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

type fakeLister struct {
	sources map[models.SourceType][]models.IngestionSource
	err     error
}

func (f *fakeLister) ListActive(_ context.Context, t models.SourceType) ([]models.IngestionSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources[t], nil
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   map[uuid.UUID]int
	started chan uuid.UUID
	release chan struct{}
	// ignoreCancel keeps Run blocked on release even after ctx is cancelled.
	ignoreCancel bool
	err          error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[uuid.UUID]int), started: make(chan uuid.UUID, 16)}
}

func (f *fakeRunner) Run(ctx context.Context, source models.IngestionSource) (ingestor.RunResult, error) {
	f.mu.Lock()
	f.calls[source.ID]++
	f.mu.Unlock()
	f.started <- source.ID
	if f.release != nil && f.ignoreCancel {
		<-f.release
	} else if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ingestor.RunResult{}, ctx.Err()
		}
	}
	return ingestor.RunResult{Enqueued: 1}, f.err
}

func (f *fakeRunner) count(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func source(t models.SourceType) models.IngestionSource {
	return models.IngestionSource{ID: uuid.New(), SourceType: t, SourceName: string(t), IsActive: true}
}

func waitStarted(t *testing.T, r *fakeRunner) uuid.UUID {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not called")
		return uuid.Nil
	}
}

func TestRunCycle_RunsEverySource(t *testing.T) {
	web := []models.IngestionSource{source(models.SourceTypeWeb), source(models.SourceTypeWeb)}
	runner := newFakeRunner()
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{models.SourceTypeWeb: web}},
		runner, Options{MaxConcurrent: 2}, zaptest.NewLogger(t))

	res, err := o.RunCycle(context.Background(), models.SourceTypeWeb)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sources != 2 || res.Enqueued != 2 || res.Skipped != 0 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, s := range web {
		if runner.count(s.ID) != 1 {
			t.Errorf("source %s ran %d times", s.ID, runner.count(s.ID))
		}
	}
	if o.Status().LastRunTime == nil {
		t.Error("expected lastRunTime after a cycle")
	}
}

func TestRunCycle_FailuresDoNotStopOtherSources(t *testing.T) {
	web := []models.IngestionSource{source(models.SourceTypeWeb), source(models.SourceTypeWeb)}
	runner := newFakeRunner()
	runner.err = errors.New("boom")
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{models.SourceTypeWeb: web}},
		runner, Options{MaxConcurrent: 1}, zaptest.NewLogger(t))

	res, err := o.RunCycle(context.Background(), models.SourceTypeWeb)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 2 {
		t.Errorf("expected both failures counted, got %+v", res)
	}
}

func TestRunCycle_ListFailure(t *testing.T) {
	o := New(&fakeLister{err: errors.New("db down")}, newFakeRunner(), Options{}, zaptest.NewLogger(t))
	if _, err := o.RunCycle(context.Background(), models.SourceTypeWeb); err == nil {
		t.Fatal("expected list error")
	}
}

func TestRunCycle_SkipsSourceInFlight(t *testing.T) {
	src := source(models.SourceTypeWhatsApp)
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{models.SourceTypeWhatsApp: {src}}},
		runner, Options{MaxConcurrent: 4}, zaptest.NewLogger(t))

	done := make(chan CycleResult, 1)
	go func() {
		res, _ := o.RunCycle(context.Background(), models.SourceTypeWhatsApp)
		done <- res
	}()
	waitStarted(t, runner)

	status := o.Status()
	if !status.CycleInFlight || status.SourcesInCycle != 1 {
		t.Errorf("expected one source in flight, got %+v", status)
	}

	second, err := o.RunCycle(context.Background(), models.SourceTypeWhatsApp)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 {
		t.Errorf("expected in-flight source to be skipped, got %+v", second)
	}

	close(runner.release)
	first := <-done
	if first.Skipped != 0 || runner.count(src.ID) != 1 {
		t.Errorf("expected exactly one run, got %+v calls=%d", first, runner.count(src.ID))
	}
}

func TestStartStop(t *testing.T) {
	web := source(models.SourceTypeWeb)
	wa := source(models.SourceTypeWhatsApp)
	runner := newFakeRunner()
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{
		models.SourceTypeWeb:      {web},
		models.SourceTypeWhatsApp: {wa},
	}}, runner, Options{
		Lanes: []Lane{
			{SourceType: models.SourceTypeWeb, Interval: time.Hour},
			{SourceType: models.SourceTypeWhatsApp, Interval: time.Hour},
		},
		MaxConcurrent: 2,
	}, zaptest.NewLogger(t))

	if o.Status().IsRunning {
		t.Fatal("orchestrator should not run before Start")
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatal("second Start should be a no-op")
	}

	seen := map[uuid.UUID]bool{waitStarted(t, runner): true, waitStarted(t, runner): true}
	if !seen[web.ID] || !seen[wa.ID] {
		t.Errorf("expected both lanes to run at start, got %v", seen)
	}
	if !o.Status().IsRunning {
		t.Error("expected isRunning after Start")
	}

	o.Stop()
	status := o.Status()
	if status.IsRunning || status.NextRunTime != nil {
		t.Errorf("unexpected status after Stop: %+v", status)
	}
}

func TestTriggerManualRun_ReturnsImmediately(t *testing.T) {
	web := source(models.SourceTypeWeb)
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{models.SourceTypeWeb: {web}}},
		runner, Options{Lanes: []Lane{{SourceType: models.SourceTypeWeb, Interval: time.Hour}}, MaxConcurrent: 1},
		zaptest.NewLogger(t))

	returned := make(chan struct{})
	go func() {
		if !o.TriggerManualRun() {
			t.Error("manual run refused on an idle orchestrator")
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("TriggerManualRun blocked")
	}

	if id := waitStarted(t, runner); id != web.ID {
		t.Errorf("unexpected source %s", id)
	}
	close(runner.release)
	o.wg.Wait()
	if runner.count(web.ID) != 1 {
		t.Errorf("expected one manual run, got %d", runner.count(web.ID))
	}
}

func TestTriggerManualRun_RefusedWhileStopping(t *testing.T) {
	web := source(models.SourceTypeWeb)
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	runner.ignoreCancel = true
	o := New(&fakeLister{sources: map[models.SourceType][]models.IngestionSource{models.SourceTypeWeb: {web}}},
		runner, Options{Lanes: []Lane{{SourceType: models.SourceTypeWeb, Interval: time.Hour}}, MaxConcurrent: 1},
		zaptest.NewLogger(t))

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitStarted(t, runner)

	stopped := make(chan struct{})
	go func() {
		o.Stop()
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		o.mu.Lock()
		stopping := o.stopping
		o.mu.Unlock()
		if stopping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Stop never began")
		}
		time.Sleep(time.Millisecond)
	}

	if o.TriggerManualRun() {
		t.Error("expected manual run to be refused while stopping")
	}

	close(runner.release)
	<-stopped

	if !o.TriggerManualRun() {
		t.Error("expected manual run to be accepted once stopped")
	}
	waitStarted(t, runner)
	o.wg.Wait()
	if n := runner.count(web.ID); n != 2 {
		t.Errorf("expected the lane run and one manual run, got %d", n)
	}
}
