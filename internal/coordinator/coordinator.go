package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/remote"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// DefaultDebounceWindow is the quiet period applied when none is configured.
const DefaultDebounceWindow = 2000 * time.Millisecond

var (
	// ErrPushRejected indicates the remote answered with success=false.
	ErrPushRejected = errors.New("coordinator: push not accepted")

	errMissingClient  = errors.New("coordinator: remote client is required")
	errNegativeWindow = errors.New("coordinator: debounce window must not be negative")
)

const (
	opPush    = "coordinator.push"
	opPull    = "coordinator.pull"
	opList    = "coordinator.list"
	opMarshal = "coordinator.marshal"
)

// RemoteClient is the transport the coordinator drives.
type RemoteClient interface {
	Enabled() bool
	Push(ctx context.Context, diagram diagrams.Diagram) (remote.PushResult, error)
	Pull(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error)
	ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error)
	HealthCheck(ctx context.Context) bool
}

// PushOutcome reports what PushNow did.
type PushOutcome string

const (
	PushSkippedDisabled PushOutcome = "skipped_disabled"
	PushSkippedInFlight PushOutcome = "skipped_in_flight"
	PushUnchanged       PushOutcome = "unchanged"
	PushSucceeded       PushOutcome = "pushed"
	PushFailed          PushOutcome = "failed"
)

// Config describes coordinator dependencies and callbacks.
type Config struct {
	Client         RemoteClient
	Enabled        bool
	// DebounceWindow defaults to DefaultDebounceWindow when zero.
	DebounceWindow time.Duration
	Scheduler      Scheduler
	Codec          *wire.Codec
	Logger         *zap.Logger
	OnSuccess      func(diagramID string)
	OnError        func(err error)
}

// Coordinator serializes pushes to the remote store. At most one push is in
// flight; calls that arrive meanwhile are dropped rather than queued.
type Coordinator struct {
	client    RemoteClient
	enabled   bool
	codec     *wire.Codec
	logger    *zap.Logger
	onSuccess func(string)
	onError   func(error)
	debouncer *Debouncer[diagrams.Diagram]

	mu          sync.Mutex
	inFlight    bool
	pushDone    chan struct{}
	hasBaseline bool
	baseline    xxh3.Uint128
	baseCtx     context.Context
}

// New constructs a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	window := cfg.DebounceWindow
	if window < 0 {
		return nil, errNegativeWindow
	}
	if window == 0 {
		window = DefaultDebounceWindow
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.NewCodec(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	coordinator := &Coordinator{
		client:    cfg.Client,
		enabled:   cfg.Enabled,
		codec:     codec,
		logger:    logger,
		onSuccess: cfg.OnSuccess,
		onError:   cfg.OnError,
		baseCtx:   context.Background(),
	}
	coordinator.debouncer = NewDebouncer(window, cfg.Scheduler, func(diagram diagrams.Diagram) {
		coordinator.PushNow(coordinator.baseContext(), diagram)
	})
	return coordinator, nil
}

// Activate binds the context used by debounced pushes and runs the warm-up
// health check once.
func (c *Coordinator) Activate(ctx context.Context) bool {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if !c.client.Enabled() {
		c.logger.Info("remote sync disabled")
		return false
	}
	healthy := c.client.HealthCheck(ctx)
	if healthy {
		c.logger.Info("remote sync reachable")
	} else {
		c.logger.Warn("remote sync unreachable")
	}
	return healthy
}

// SchedulePush debounces pushes; only the latest diagram of a burst is sent.
func (c *Coordinator) SchedulePush(diagram diagrams.Diagram) {
	c.debouncer.Schedule(diagram)
}

// PushNow pushes the diagram immediately, bypassing the debounce window.
func (c *Coordinator) PushNow(ctx context.Context, diagram diagrams.Diagram) PushOutcome {
	if !c.enabled || !c.client.Enabled() {
		return PushSkippedDisabled
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("push dropped while another is in flight", zap.String("diagram_id", diagram.ID))
		return PushSkippedInFlight
	}
	c.inFlight = true
	c.pushDone = make(chan struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		close(c.pushDone)
		c.pushDone = nil
		c.mu.Unlock()
	}()

	serialized, err := c.codec.Marshal(diagram)
	if err != nil {
		c.report(opMarshal, "marshal_failed", err, diagram.ID)
		return PushFailed
	}
	if c.matchesBaseline(serialized) {
		return PushUnchanged
	}

	result, err := c.client.Push(ctx, diagram)
	if err != nil {
		c.report(opPush, "push_failed", err, diagram.ID)
		return PushFailed
	}
	if !result.Success {
		c.report(opPush, "push_rejected", ErrPushRejected, diagram.ID)
		return PushFailed
	}

	c.setBaseline(serialized)
	diagramID := result.DiagramID
	if diagramID == "" {
		diagramID = diagram.ID
	}
	c.logger.Info("diagram synced", zap.String("diagram_id", diagramID))
	if c.onSuccess != nil {
		c.onSuccess(diagramID)
	}
	return PushSucceeded
}

// Pull fetches a diagram and records it as the sync baseline. Failures are
// reported through the error callback and yield found=false.
func (c *Coordinator) Pull(ctx context.Context, diagramID string) (diagrams.Diagram, bool) {
	diagram, found, err := c.client.Pull(ctx, diagramID)
	if err != nil {
		if !errors.Is(err, remote.ErrDisabled) {
			c.report(opPull, "pull_failed", err, diagramID)
		}
		return diagrams.Diagram{}, false
	}
	if !found {
		return diagrams.Diagram{}, false
	}
	serialized, err := c.codec.Marshal(diagram)
	if err != nil {
		c.report(opMarshal, "marshal_failed", err, diagramID)
		return diagram, true
	}
	c.setBaseline(serialized)
	return diagram, true
}

// ListDiagrams returns the remote catalog, or an empty list on failure.
func (c *Coordinator) ListDiagrams(ctx context.Context) []diagrams.ListItem {
	items, err := c.client.ListDiagrams(ctx)
	if err != nil {
		if !errors.Is(err, remote.ErrDisabled) {
			c.report(opList, "list_failed", err, "")
		}
		return []diagrams.ListItem{}
	}
	return items
}

// InFlight reports whether a push is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Shutdown flushes any debounced push and waits for the in-flight push to
// settle or ctx to expire. A debounced push whose timer already fired is
// waited for as well.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.debouncer.Flush()

	select {
	case <-c.debouncer.Settled():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	pushDone := c.pushDone
	c.mu.Unlock()
	if pushDone == nil {
		return nil
	}
	select {
	case <-pushDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCtx
}

// The baseline is the 128-bit xxh3 fingerprint of the last synced
// serialization; only the fingerprint is retained.
func (c *Coordinator) matchesBaseline(serialized []byte) bool {
	fingerprint := xxh3.Hash128(serialized)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasBaseline && fingerprint == c.baseline
}

func (c *Coordinator) setBaseline(serialized []byte) {
	fingerprint := xxh3.Hash128(serialized)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseline = fingerprint
	c.hasBaseline = true
}

func (c *Coordinator) report(operation, reason string, err error, diagramID string) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if diagramID != "" {
		fields = append(fields, zap.String("diagram_id", diagramID))
	}
	c.logger.Warn("diagram sync failed", fields...)
	if c.onError != nil {
		c.onError(err)
	}
}
