package watch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"go.uber.org/zap"
)

var (
	errMissingSaver     = errors.New("watch: diagram saver is required")
	errMissingScheduler = errors.New("watch: push scheduler is required")
)

// DiagramSaver persists decoded diagrams locally.
type DiagramSaver interface {
	SaveDiagram(ctx context.Context, diagram diagrams.Diagram) error
}

// PushScheduler queues a debounced push of a diagram.
type PushScheduler interface {
	SchedulePush(diagram diagrams.Diagram)
}

// SyncerConfig wires Syncer dependencies.
type SyncerConfig struct {
	Saver     DiagramSaver
	Scheduler PushScheduler
	Codec     *wire.Codec
	Logger    *zap.Logger
}

// Syncer applies file changes: each created or modified diagram file is
// decoded, saved to the catalog and scheduled for push. Deletions are logged
// only; they never remove catalog or remote entries.
type Syncer struct {
	saver     DiagramSaver
	scheduler PushScheduler
	codec     *wire.Codec
	logger    *zap.Logger
}

func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	if cfg.Scheduler == nil {
		return nil, errMissingScheduler
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.NewCodec(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{saver: cfg.Saver, scheduler: cfg.Scheduler, codec: codec, logger: logger}, nil
}

// HandleEvent processes one change event.
func (s *Syncer) HandleEvent(ctx context.Context, event ChangeEvent) error {
	if event.Op == OpDelete {
		s.logger.Info("diagram file removed", zap.String("path", event.Path))
		return nil
	}

	contents, err := os.ReadFile(event.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", event.Path, err)
	}
	if len(contents) == 0 {
		// editors truncate before writing; the follow-up write carries the content
		return nil
	}
	diagram, err := s.codec.Unmarshal(contents)
	if err != nil {
		return fmt.Errorf("decode %s: %w", event.Path, err)
	}
	if _, err := diagrams.NewDiagramID(diagram.ID); err != nil {
		return fmt.Errorf("decode %s: %w", event.Path, err)
	}
	if err := s.saver.SaveDiagram(ctx, diagram); err != nil {
		return fmt.Errorf("save %s: %w", diagram.ID, err)
	}
	s.scheduler.SchedulePush(diagram)
	s.logger.Debug("diagram file applied",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()),
		zap.String("diagram_id", diagram.ID))
	return nil
}

// Run consumes watcher events until ctx ends or the watcher stops. Failures
// on individual files are logged and do not stop the loop.
func (s *Syncer) Run(ctx context.Context, watcher *FileWatcher) error {
	events := watcher.Events()
	watchErrors := watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.HandleEvent(ctx, event); err != nil {
				s.logger.Warn("diagram file skipped", zap.String("path", event.Path), zap.Error(err))
			}
		case err, ok := <-watchErrors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
