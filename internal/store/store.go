package store

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a pulled diagram is served from memory.
const DefaultCacheTTL = 5 * time.Minute

var errMissingCatalog = errors.New("diagram catalog is required")

const (
	opNew  = "store.new"
	opPut  = "store.put"
	opGet  = "store.get"
	opList = "store.list"
)

// DiagramCatalog is the persistent layer behind the store.
type DiagramCatalog interface {
	ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error)
	LoadDiagram(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error)
	SaveDiagram(ctx context.Context, diagram diagrams.Diagram) error
}

// Config wires store dependencies.
type Config struct {
	Catalog  DiagramCatalog
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Store serves the sync endpoints: persistent diagrams with a read-through
// cache that each accepted push invalidates.
type Store struct {
	catalog DiagramCatalog
	cache   *cache.Cache
	logger  *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Catalog == nil {
		return nil, diagrams.NewServiceError(opNew, "missing_catalog", errMissingCatalog)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		catalog: cfg.Catalog,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}, nil
}

// Put persists the diagram. Stale writes fail with diagrams.ErrStaleDiagram.
func (s *Store) Put(ctx context.Context, diagram diagrams.Diagram) error {
	if err := s.catalog.SaveDiagram(ctx, diagram); err != nil {
		if !errors.Is(err, diagrams.ErrStaleDiagram) {
			s.logger.Error("store error",
				zap.String("operation", opPut),
				zap.String("diagram_id", diagram.ID),
				zap.Error(err))
		}
		return err
	}
	s.cache.Delete(diagram.ID)
	return nil
}

// Get returns the diagram stored under id, consulting the cache first.
func (s *Store) Get(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error) {
	if cached, ok := s.cache.Get(diagramID); ok {
		if diagram, ok := cached.(diagrams.Diagram); ok {
			return diagram, true, nil
		}
	}
	diagram, found, err := s.catalog.LoadDiagram(ctx, diagramID)
	if err != nil {
		s.logger.Error("store error",
			zap.String("operation", opGet),
			zap.String("diagram_id", diagramID),
			zap.Error(err))
		return diagrams.Diagram{}, false, err
	}
	if found {
		s.cache.SetDefault(diagramID, diagram)
	}
	return diagram, found, nil
}

// List returns the catalog projection, most recently updated first.
func (s *Store) List(ctx context.Context) ([]diagrams.ListItem, error) {
	items, err := s.catalog.ListDiagrams(ctx)
	if err != nil {
		s.logger.Error("store error", zap.String("operation", opList), zap.Error(err))
		return nil, err
	}
	return items, nil
}
