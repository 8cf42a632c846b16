package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/catalog"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/coordinator"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
)

var errSyncDisabled = errors.New("remote sync is disabled")

// pushFromCatalog pushes the stored diagram immediately. Entries imported
// from the remote listing have no body and are refused so an empty diagram
// never replaces the remote one.
func pushFromCatalog(ctx context.Context, local *catalog.Catalog, syncCoordinator *coordinator.Coordinator, diagramID string) (coordinator.PushOutcome, error) {
	diagram, found, err := local.LoadFullDiagram(ctx, diagramID)
	if errors.Is(err, catalog.ErrProjectionOnly) {
		return "", fmt.Errorf("diagram %s has not been pulled yet, run `diagramsync pull %s` first: %w", diagramID, diagramID, err)
	}
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("diagram %s not found in catalog", diagramID)
	}

	outcome := syncCoordinator.PushNow(ctx, diagram)
	switch outcome {
	case coordinator.PushSkippedDisabled:
		return outcome, errSyncDisabled
	case coordinator.PushFailed:
		return outcome, fmt.Errorf("push of %s failed", diagram.ID)
	}
	return outcome, nil
}

// pullIntoCatalog fetches the remote diagram through the coordinator, which
// records it as the sync baseline, and stores it locally.
func pullIntoCatalog(ctx context.Context, local *catalog.Catalog, syncCoordinator *coordinator.Coordinator, enabled bool, diagramID string) (diagrams.Diagram, error) {
	if !enabled {
		return diagrams.Diagram{}, errSyncDisabled
	}
	diagram, found := syncCoordinator.Pull(ctx, diagramID)
	if !found {
		return diagrams.Diagram{}, fmt.Errorf("diagram %s not available from the remote store", diagramID)
	}
	if err := local.SaveDiagram(ctx, diagram); err != nil {
		return diagrams.Diagram{}, err
	}
	return diagram, nil
}
