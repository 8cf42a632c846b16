package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/remote"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"github.com/zeebo/xxh3"
)

var testInstant = time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)

type fakeTimer struct {
	scheduler *fakeScheduler
	deadline  time.Duration
	callback  func()
	stopped   bool
	fired     bool
}

func (t *fakeTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, callback func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{scheduler: s, deadline: s.now + delay, callback: callback}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) Advance(delta time.Duration) {
	s.mu.Lock()
	s.now += delta
	var due []func()
	for _, timer := range s.timers {
		if timer.stopped || timer.fired || timer.deadline > s.now {
			continue
		}
		timer.fired = true
		due = append(due, timer.callback)
	}
	s.mu.Unlock()
	for _, callback := range due {
		callback()
	}
}

type fakeRemote struct {
	mu          sync.Mutex
	enabled     bool
	pushes      []diagrams.Diagram
	pushErr     error
	pushResult  *remote.PushResult
	pushEntered chan struct{}
	pushRelease chan struct{}
	pullDiagram diagrams.Diagram
	pullFound   bool
	pullErr     error
	listItems   []diagrams.ListItem
	listErr     error
	healthy     bool
	healthCalls int
}

func (f *fakeRemote) Enabled() bool {
	return f.enabled
}

func (f *fakeRemote) Push(ctx context.Context, diagram diagrams.Diagram) (remote.PushResult, error) {
	if f.pushEntered != nil {
		f.pushEntered <- struct{}{}
	}
	if f.pushRelease != nil {
		<-f.pushRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return remote.PushResult{}, f.pushErr
	}
	f.pushes = append(f.pushes, diagram)
	if f.pushResult != nil {
		return *f.pushResult, nil
	}
	return remote.PushResult{Success: true, DiagramID: diagram.ID}, nil
}

func (f *fakeRemote) Pull(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error) {
	return f.pullDiagram, f.pullFound, f.pullErr
}

func (f *fakeRemote) ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error) {
	return f.listItems, f.listErr
}

func (f *fakeRemote) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthy
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) lastPush() diagrams.Diagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

type callbackRecorder struct {
	mu        sync.Mutex
	successes []string
	failures  []error
}

func (r *callbackRecorder) onSuccess(diagramID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, diagramID)
}

func (r *callbackRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func sampleDiagram(name string) diagrams.Diagram {
	return diagrams.Diagram{
		ID:           "diagram-1",
		Name:         name,
		DatabaseType: diagrams.DatabaseTypePostgreSQL,
		CreatedAt:    testInstant,
		UpdatedAt:    testInstant,
		Tables:       []diagrams.Table{{ID: "t1", Name: "orders", CreatedAt: testInstant, Indexes: []diagrams.Index{}}},
	}
}

func mustCoordinator(t *testing.T, client RemoteClient, scheduler Scheduler, recorder *callbackRecorder) *Coordinator {
	t.Helper()
	cfg := Config{
		Client:         client,
		Enabled:        true,
		DebounceWindow: 2 * time.Second,
		Scheduler:      scheduler,
		Codec:          wire.NewCodec(func() time.Time { return testInstant }),
	}
	if recorder != nil {
		cfg.OnSuccess = recorder.onSuccess
		cfg.OnError = recorder.onError
	}
	coordinator, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	return coordinator
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing client")
	}
}

func TestNewRejectsNegativeDebounceWindow(t *testing.T) {
	_, err := New(Config{Client: &fakeRemote{enabled: true}, DebounceWindow: -time.Millisecond})
	if !errors.Is(err, errNegativeWindow) {
		t.Fatalf("expected negative window error, got %v", err)
	}
}

func TestBaselineIsContentFingerprint(t *testing.T) {
	client := &fakeRemote{enabled: true}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, nil)
	diagram := sampleDiagram("Shop")

	if outcome := coordinator.PushNow(context.Background(), diagram); outcome != PushSucceeded {
		t.Fatalf("expected push, got %s", outcome)
	}
	serialized, err := coordinator.codec.Marshal(diagram)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !coordinator.hasBaseline || coordinator.baseline != xxh3.Hash128(serialized) {
		t.Fatalf("expected baseline to be the xxh3 fingerprint of the pushed diagram")
	}

	renamed := sampleDiagram("Shop v2")
	if outcome := coordinator.PushNow(context.Background(), renamed); outcome != PushSucceeded {
		t.Fatalf("expected changed diagram to push, got %s", outcome)
	}
	if outcome := coordinator.PushNow(context.Background(), diagram); outcome != PushSucceeded {
		t.Fatalf("expected reverting to an earlier version to push, got %s", outcome)
	}
	if client.pushCount() != 3 {
		t.Fatalf("expected three pushes, got %d", client.pushCount())
	}
}

func TestPushNowSkipsUnchangedDiagram(t *testing.T) {
	client := &fakeRemote{enabled: true}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop")); outcome != PushSucceeded {
		t.Fatalf("expected first push to succeed, got %s", outcome)
	}
	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop")); outcome != PushUnchanged {
		t.Fatalf("expected identical push to be skipped, got %s", outcome)
	}
	if client.pushCount() != 1 {
		t.Fatalf("expected exactly one network push, got %d", client.pushCount())
	}

	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop v2")); outcome != PushSucceeded {
		t.Fatalf("expected changed diagram to push, got %s", outcome)
	}
	if client.pushCount() != 2 {
		t.Fatalf("expected second network push, got %d", client.pushCount())
	}
	if len(recorder.successes) != 2 || recorder.successes[0] != "diagram-1" {
		t.Fatalf("unexpected success callbacks %v", recorder.successes)
	}
}

func TestPushNowDropsCallsWhileInFlight(t *testing.T) {
	client := &fakeRemote{
		enabled:     true,
		pushEntered: make(chan struct{}, 1),
		pushRelease: make(chan struct{}),
	}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, nil)

	done := make(chan PushOutcome, 1)
	go func() {
		done <- coordinator.PushNow(context.Background(), sampleDiagram("first"))
	}()
	<-client.pushEntered

	if !coordinator.InFlight() {
		t.Fatalf("expected push to be in flight")
	}
	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("second")); outcome != PushSkippedInFlight {
		t.Fatalf("expected concurrent push to be dropped, got %s", outcome)
	}

	close(client.pushRelease)
	if outcome := <-done; outcome != PushSucceeded {
		t.Fatalf("expected in-flight push to succeed, got %s", outcome)
	}
	if coordinator.InFlight() {
		t.Fatalf("expected in-flight flag cleared")
	}
	if client.pushCount() != 1 || client.lastPush().Name != "first" {
		t.Fatalf("expected only the first diagram to reach the network")
	}
}

func TestSchedulePushCoalescesBurst(t *testing.T) {
	client := &fakeRemote{enabled: true}
	scheduler := &fakeScheduler{}
	coordinator := mustCoordinator(t, client, scheduler, nil)

	coordinator.SchedulePush(sampleDiagram("v1"))
	scheduler.Advance(500 * time.Millisecond)
	coordinator.SchedulePush(sampleDiagram("v2"))
	scheduler.Advance(500 * time.Millisecond)
	coordinator.SchedulePush(sampleDiagram("v3"))

	scheduler.Advance(1999 * time.Millisecond)
	if client.pushCount() != 0 {
		t.Fatalf("expected no push before the quiet window elapsed")
	}
	scheduler.Advance(time.Millisecond)
	if client.pushCount() != 1 {
		t.Fatalf("expected exactly one push after the burst, got %d", client.pushCount())
	}
	if client.lastPush().Name != "v3" {
		t.Fatalf("expected last scheduled diagram to be pushed, got %q", client.lastPush().Name)
	}

	scheduler.Advance(10 * time.Second)
	if client.pushCount() != 1 {
		t.Fatalf("expected stale timers not to fire again")
	}
}

func TestDisabledCoordinatorIssuesNoCalls(t *testing.T) {
	testCases := []struct {
		name          string
		clientEnabled bool
		coordEnabled  bool
	}{
		{name: "client-disabled", clientEnabled: false, coordEnabled: true},
		{name: "coordinator-disabled", clientEnabled: true, coordEnabled: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := &fakeRemote{enabled: testCase.clientEnabled}
			scheduler := &fakeScheduler{}
			recorder := &callbackRecorder{}
			coordinator, err := New(Config{
				Client:    client,
				Enabled:   testCase.coordEnabled,
				Scheduler: scheduler,
				OnSuccess: recorder.onSuccess,
				OnError:   recorder.onError,
			})
			if err != nil {
				t.Fatalf("failed to build coordinator: %v", err)
			}

			if outcome := coordinator.PushNow(context.Background(), sampleDiagram("x")); outcome != PushSkippedDisabled {
				t.Fatalf("expected disabled outcome, got %s", outcome)
			}
			coordinator.SchedulePush(sampleDiagram("y"))
			scheduler.Advance(DefaultDebounceWindow)

			if client.pushCount() != 0 {
				t.Fatalf("expected no pushes when disabled")
			}
			if len(recorder.successes) != 0 || len(recorder.failures) != 0 {
				t.Fatalf("expected no callbacks when disabled")
			}
		})
	}
}

func TestPushFailureReportsErrorAndAllowsRetry(t *testing.T) {
	transportErr := errors.New("connection refused")
	client := &fakeRemote{enabled: true, pushErr: transportErr}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop")); outcome != PushFailed {
		t.Fatalf("expected failure outcome, got %s", outcome)
	}
	if len(recorder.failures) != 1 || !errors.Is(recorder.failures[0], transportErr) {
		t.Fatalf("expected error callback with transport error, got %v", recorder.failures)
	}
	if coordinator.InFlight() {
		t.Fatalf("expected in-flight flag cleared after failure")
	}

	client.mu.Lock()
	client.pushErr = nil
	client.mu.Unlock()

	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop")); outcome != PushSucceeded {
		t.Fatalf("expected retry of the same diagram to push, got %s", outcome)
	}
}

func TestPushRejectedCountsAsFailure(t *testing.T) {
	client := &fakeRemote{enabled: true, pushResult: &remote.PushResult{Success: false}}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	if outcome := coordinator.PushNow(context.Background(), sampleDiagram("Shop")); outcome != PushFailed {
		t.Fatalf("expected rejected push to fail, got %s", outcome)
	}
	if len(recorder.failures) != 1 || !errors.Is(recorder.failures[0], ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", recorder.failures)
	}
	if len(recorder.successes) != 0 {
		t.Fatalf("expected no success callback")
	}
}

func TestPullEstablishesBaseline(t *testing.T) {
	pulled := sampleDiagram("Remote")
	client := &fakeRemote{enabled: true, pullDiagram: pulled, pullFound: true}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, nil)

	diagram, found := coordinator.Pull(context.Background(), "diagram-1")
	if !found || diagram.Name != "Remote" {
		t.Fatalf("unexpected pull result %#v found=%v", diagram, found)
	}
	if outcome := coordinator.PushNow(context.Background(), pulled); outcome != PushUnchanged {
		t.Fatalf("expected freshly pulled diagram not to be pushed back, got %s", outcome)
	}
	if client.pushCount() != 0 {
		t.Fatalf("expected no network push")
	}
}

func TestPullFailureReportsAbsent(t *testing.T) {
	pullErr := errors.New("HTTP 500: Internal Server Error")
	client := &fakeRemote{enabled: true, pullErr: pullErr}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	if _, found := coordinator.Pull(context.Background(), "diagram-1"); found {
		t.Fatalf("expected absent result on failure")
	}
	if len(recorder.failures) != 1 {
		t.Fatalf("expected error callback, got %v", recorder.failures)
	}
}

func TestPullDisabledIsSilent(t *testing.T) {
	client := &fakeRemote{enabled: false, pullErr: remote.ErrDisabled}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	if _, found := coordinator.Pull(context.Background(), "diagram-1"); found {
		t.Fatalf("expected absent result when disabled")
	}
	if len(recorder.failures) != 0 {
		t.Fatalf("expected no error callback when disabled, got %v", recorder.failures)
	}
}

func TestListDiagramsFallsBackToEmpty(t *testing.T) {
	client := &fakeRemote{enabled: true, listErr: errors.New("timeout")}
	recorder := &callbackRecorder{}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, recorder)

	items := coordinator.ListDiagrams(context.Background())
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", items)
	}
	if len(recorder.failures) != 1 {
		t.Fatalf("expected error callback")
	}

	client.listErr = nil
	client.listItems = []diagrams.ListItem{{ID: "a"}, {ID: "b"}}
	if items := coordinator.ListDiagrams(context.Background()); len(items) != 2 {
		t.Fatalf("expected remote list, got %#v", items)
	}
}

func TestActivateRunsSingleHealthCheck(t *testing.T) {
	client := &fakeRemote{enabled: true, healthy: true}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, nil)

	if !coordinator.Activate(context.Background()) {
		t.Fatalf("expected healthy activation")
	}
	if client.healthCalls != 1 {
		t.Fatalf("expected one health check, got %d", client.healthCalls)
	}

	disabled := &fakeRemote{enabled: false, healthy: true}
	if mustCoordinator(t, disabled, &fakeScheduler{}, nil).Activate(context.Background()) {
		t.Fatalf("expected disabled activation to report false")
	}
	if disabled.healthCalls != 0 {
		t.Fatalf("expected no health check when disabled")
	}
}

func TestShutdownFlushesPendingPush(t *testing.T) {
	client := &fakeRemote{enabled: true}
	scheduler := &fakeScheduler{}
	coordinator := mustCoordinator(t, client, scheduler, nil)

	coordinator.SchedulePush(sampleDiagram("pending"))
	if err := coordinator.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if client.pushCount() != 1 || client.lastPush().Name != "pending" {
		t.Fatalf("expected pending diagram to be flushed on shutdown")
	}

	scheduler.Advance(DefaultDebounceWindow)
	if client.pushCount() != 1 {
		t.Fatalf("expected flushed timer not to fire again")
	}
}

func TestShutdownHonoursContextWhilePushInFlight(t *testing.T) {
	client := &fakeRemote{
		enabled:     true,
		pushEntered: make(chan struct{}, 1),
		pushRelease: make(chan struct{}),
	}
	coordinator := mustCoordinator(t, client, &fakeScheduler{}, nil)

	done := make(chan struct{})
	go func() {
		coordinator.PushNow(context.Background(), sampleDiagram("slow"))
		close(done)
	}()
	<-client.pushEntered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := coordinator.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	close(client.pushRelease)
	<-done
	if err := coordinator.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected shutdown to settle once the push finished: %v", err)
	}
}

func TestShutdownWaitsForPushStartedByTimer(t *testing.T) {
	client := &fakeRemote{
		enabled:     true,
		pushEntered: make(chan struct{}, 1),
		pushRelease: make(chan struct{}),
	}
	scheduler := &fakeScheduler{}
	coordinator := mustCoordinator(t, client, scheduler, nil)

	coordinator.SchedulePush(sampleDiagram("timed"))
	fired := make(chan struct{})
	go func() {
		scheduler.Advance(2 * time.Second)
		close(fired)
	}()
	<-client.pushEntered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := coordinator.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected shutdown to keep waiting for the timer push, got %v", err)
	}

	close(client.pushRelease)
	if err := coordinator.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if client.pushCount() != 1 || client.lastPush().Name != "timed" {
		t.Fatalf("expected the timer push to complete before shutdown returned")
	}
	<-fired
}

func TestDebouncerSettledCoversTakenValue(t *testing.T) {
	scheduler := &fakeScheduler{}
	entered := make(chan int, 1)
	release := make(chan struct{})
	debouncer := NewDebouncer(time.Second, scheduler, func(value int) {
		entered <- value
		<-release
	})

	select {
	case <-debouncer.Settled():
	default:
		t.Fatalf("expected an idle debouncer to be settled")
	}

	debouncer.Schedule(7)
	go scheduler.Advance(time.Second)
	if value := <-entered; value != 7 {
		t.Fatalf("expected action with 7, got %d", value)
	}

	settled := debouncer.Settled()
	select {
	case <-settled:
		t.Fatalf("expected running action to hold the debouncer unsettled")
	default:
	}
	if debouncer.Flush() {
		t.Fatalf("expected nothing pending once the timer took the value")
	}

	close(release)
	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the debouncer to settle")
	}
}

func TestDebouncerCancelDropsPendingValue(t *testing.T) {
	scheduler := &fakeScheduler{}
	var fired []int
	debouncer := NewDebouncer(time.Second, scheduler, func(value int) {
		fired = append(fired, value)
	})

	debouncer.Schedule(1)
	if !debouncer.Pending() {
		t.Fatalf("expected pending value")
	}
	debouncer.Cancel()
	scheduler.Advance(2 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("expected cancelled value not to fire, got %v", fired)
	}
	if debouncer.Flush() {
		t.Fatalf("expected flush with nothing pending to report false")
	}

	debouncer.Schedule(2)
	debouncer.Schedule(3)
	scheduler.Advance(time.Second)
	if len(fired) != 1 || fired[0] != 3 {
		t.Fatalf("expected only the latest value, got %v", fired)
	}
}
