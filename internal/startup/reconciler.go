package startup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/remote"
	"go.uber.org/zap"
)

var (
	errMissingLocalCatalog = errors.New("startup: local catalog is required")
	errMissingSurface      = errors.New("startup: surface is required")
)

// LocalCatalog is the id-keyed local store of diagrams.
type LocalCatalog interface {
	ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error)
	AddDiagram(ctx context.Context, item diagrams.ListItem) error
	LoadDiagram(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error)
}

// RemoteCatalog lists diagrams held by the remote store.
type RemoteCatalog interface {
	ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error)
}

// Surface receives the user-facing effects of a startup evaluation.
type Surface interface {
	SetLoading(loading bool)
	ClearDiagram()
	ResetHistory()
	StageDiagram(diagram diagrams.Diagram)
	OpenExistingPrompt(dismissible bool)
	OpenCreatePrompt()
	Redirect(diagramID string)
}

// Outcome names the branch an evaluation ended in.
type Outcome string

const (
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeLoaded         Outcome = "loaded"
	OutcomeMissing        Outcome = "missing"
	OutcomeRedirect       Outcome = "redirect"
	OutcomeChooseExisting Outcome = "choose_existing"
	OutcomeCreateNew      Outcome = "create_new"
)

// Result reports the branch taken and, where relevant, the diagram involved.
type Result struct {
	Outcome   Outcome
	DiagramID string
	Diagram   diagrams.Diagram
	Imported  int
}

// Config wires the reconciler collaborators.
type Config struct {
	Local            LocalCatalog
	Remote           RemoteCatalog
	Surface          Surface
	DefaultDiagramID string
	Logger           *zap.Logger
}

// Reconciler decides which diagram loads when the application starts.
type Reconciler struct {
	local     LocalCatalog
	remote    RemoteCatalog
	surface   Surface
	defaultID string
	logger    *zap.Logger
	guard     loadGuard
}

// NewReconciler constructs a Reconciler. Remote may be nil for local-only use.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Local == nil {
		return nil, errMissingLocalCatalog
	}
	if cfg.Surface == nil {
		return nil, errMissingSurface
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		local:     cfg.Local,
		remote:    cfg.Remote,
		surface:   cfg.Surface,
		defaultID: strings.TrimSpace(cfg.DefaultDiagramID),
		logger:    logger,
	}, nil
}

// State returns the current guard state.
func (r *Reconciler) State() State {
	return r.guard.current()
}

// Reset returns the guard to idle so the same target may be evaluated again.
func (r *Reconciler) Reset() {
	r.guard.reset()
}

// Evaluate runs the startup decision tree for requestedID. An empty id means
// no explicit target. Repeat calls for the target currently loading or loaded
// are suppressed.
func (r *Reconciler) Evaluate(ctx context.Context, requestedID string) (Result, error) {
	requestedID = strings.TrimSpace(requestedID)
	if !r.guard.begin(requestedID) {
		r.logger.Debug("startup evaluation suppressed", zap.String("diagram_id", requestedID))
		return Result{Outcome: OutcomeSuppressed, DiagramID: requestedID}, nil
	}

	var (
		result Result
		err    error
	)
	if requestedID != "" {
		result, err = r.openExplicit(ctx, requestedID)
	} else {
		result, err = r.resolveWithoutTarget(ctx)
	}
	if err != nil {
		r.guard.abort(requestedID)
		return Result{}, err
	}
	r.guard.finish(requestedID)
	return result, nil
}

func (r *Reconciler) openExplicit(ctx context.Context, diagramID string) (Result, error) {
	r.surface.ClearDiagram()
	r.surface.SetLoading(true)
	r.surface.ResetHistory()
	defer r.surface.SetLoading(false)

	diagram, found, err := r.local.LoadDiagram(ctx, diagramID)
	if err != nil {
		return Result{}, fmt.Errorf("startup: load diagram %s: %w", diagramID, err)
	}
	if !found {
		r.logger.Info("requested diagram not found locally", zap.String("diagram_id", diagramID))
		r.surface.OpenExistingPrompt(false)
		return Result{Outcome: OutcomeMissing, DiagramID: diagramID}, nil
	}
	r.surface.StageDiagram(diagram)
	return Result{Outcome: OutcomeLoaded, DiagramID: diagramID, Diagram: diagram}, nil
}

func (r *Reconciler) resolveWithoutTarget(ctx context.Context) (Result, error) {
	if r.defaultID != "" {
		_, found, err := r.local.LoadDiagram(ctx, r.defaultID)
		if err != nil {
			return Result{}, fmt.Errorf("startup: load default diagram %s: %w", r.defaultID, err)
		}
		if found {
			r.surface.Redirect(r.defaultID)
			return Result{Outcome: OutcomeRedirect, DiagramID: r.defaultID}, nil
		}
		r.logger.Info("default diagram not found locally", zap.String("diagram_id", r.defaultID))
	}

	imported := r.reconcileRemote(ctx)

	items, err := r.local.ListDiagrams(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("startup: list local diagrams: %w", err)
	}
	if len(items) > 0 {
		r.surface.OpenExistingPrompt(false)
		return Result{Outcome: OutcomeChooseExisting, Imported: imported}, nil
	}
	r.surface.OpenCreatePrompt()
	return Result{Outcome: OutcomeCreateNew, Imported: imported}, nil
}

// reconcileRemote copies remote catalog entries missing locally into the local
// catalog. Existing local entries are never overwritten. Failures are logged
// and swallowed.
func (r *Reconciler) reconcileRemote(ctx context.Context) int {
	if r.remote == nil {
		return 0
	}
	remoteItems, err := r.remote.ListDiagrams(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrDisabled) {
			r.logger.Debug("remote catalog skipped", zap.Error(err))
		} else {
			r.logger.Warn("remote catalog unavailable", zap.Error(err))
		}
		return 0
	}
	if len(remoteItems) == 0 {
		return 0
	}

	localItems, err := r.local.ListDiagrams(ctx)
	if err != nil {
		r.logger.Warn("local catalog unavailable for merge", zap.Error(err))
		return 0
	}
	known := make(map[string]struct{}, len(localItems))
	for _, item := range localItems {
		known[item.ID] = struct{}{}
	}

	imported := 0
	for _, item := range remoteItems {
		if _, exists := known[item.ID]; exists {
			continue
		}
		if err := r.local.AddDiagram(ctx, item); err != nil {
			r.logger.Warn("failed to import remote catalog entry",
				zap.String("diagram_id", item.ID),
				zap.Error(err))
			continue
		}
		known[item.ID] = struct{}{}
		imported++
	}
	if imported > 0 {
		r.logger.Info("imported remote catalog entries", zap.Int("count", imported))
	}
	return imported
}
