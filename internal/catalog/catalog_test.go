package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/database"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"go.uber.org/zap"
)

var baseInstant = time.Date(2026, time.February, 14, 10, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), zap.NewNop(), Schema())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	catalog, err := NewCatalog(Config{
		Database: db,
		Codec:    wire.NewCodec(func() time.Time { return baseInstant }),
	})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return catalog
}

func fullDiagram(id string, updatedAt time.Time) diagrams.Diagram {
	comment := "customer orders"
	return diagrams.Diagram{
		ID:           id,
		Name:         "Orders",
		DatabaseType: diagrams.DatabaseTypePostgreSQL,
		CreatedAt:    baseInstant,
		UpdatedAt:    updatedAt,
		Tables: []diagrams.Table{{
			ID:        "t1",
			Name:      "orders",
			X:         10,
			Y:         20,
			Color:     "#ffffff",
			CreatedAt: baseInstant,
			Comment:   &comment,
			Fields: []diagrams.Field{{
				ID:         "f1",
				Name:       "id",
				Type:       diagrams.FieldType{ID: "uuid", Name: "UUID"},
				PrimaryKey: true,
				Unique:     true,
				CreatedAt:  baseInstant,
			}},
			Indexes: []diagrams.Index{{ID: "i1", Name: "orders_pk", Unique: true, FieldIDs: []string{"f1"}}},
		}},
		Relationships: []diagrams.Relationship{},
		Notes:         []diagrams.Note{{ID: "n1", Content: "draft", Width: 100, Height: 50}},
	}
}

func TestNewCatalogRequiresDatabase(t *testing.T) {
	_, err := NewCatalog(Config{})
	var serviceErr *diagrams.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "catalog.new.missing_database" {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	catalog := newTestCatalog(t)
	diagram := fullDiagram("d1", baseInstant)

	if err := catalog.SaveDiagram(context.Background(), diagram); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, found, err := catalog.LoadDiagram(context.Background(), "d1")
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(loaded, diagram) {
		t.Fatalf("round trip mismatch\nexpected %#v\nactual   %#v", diagram, loaded)
	}
}

func TestLoadMissingDiagram(t *testing.T) {
	catalog := newTestCatalog(t)
	_, found, err := catalog.LoadDiagram(context.Background(), "absent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found {
		t.Fatalf("expected absent diagram")
	}
}

func TestAddDiagramKeepsExistingEntry(t *testing.T) {
	catalog := newTestCatalog(t)
	if err := catalog.SaveDiagram(context.Background(), fullDiagram("d1", baseInstant)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	remoteItem := diagrams.ListItem{
		ID:           "d1",
		Name:         "Remote name",
		DatabaseType: diagrams.DatabaseTypeMySQL,
		CreatedAt:    baseInstant,
		UpdatedAt:    baseInstant.Add(time.Hour),
	}
	if err := catalog.AddDiagram(context.Background(), remoteItem); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	loaded, _, err := catalog.LoadDiagram(context.Background(), "d1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Name != "Orders" || len(loaded.Tables) != 1 {
		t.Fatalf("expected existing entry untouched, got %#v", loaded)
	}
}

func TestAddDiagramLoadsAsProjection(t *testing.T) {
	catalog := newTestCatalog(t)
	edition := "aurora"
	item := diagrams.ListItem{
		ID:              "remote-1",
		Name:            "Imported",
		DatabaseType:    diagrams.DatabaseTypeMySQL,
		DatabaseEdition: &edition,
		CreatedAt:       baseInstant,
		UpdatedAt:       baseInstant.Add(time.Minute),
	}
	if err := catalog.AddDiagram(context.Background(), item); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	loaded, found, err := catalog.LoadDiagram(context.Background(), "remote-1")
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(loaded.ListItem(), item) {
		t.Fatalf("unexpected projection %#v", loaded.ListItem())
	}
	if loaded.Tables != nil {
		t.Fatalf("expected no collections on a projection-only entry")
	}
}

func TestLoadFullDiagramRefusesProjectionOnlyEntry(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	item := fullDiagram("imported", baseInstant).ListItem()
	if err := catalog.AddDiagram(ctx, item); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	_, found, err := catalog.LoadFullDiagram(ctx, "imported")
	if !found || !errors.Is(err, ErrProjectionOnly) {
		t.Fatalf("expected projection-only error for imported entry, found=%v err=%v", found, err)
	}

	if _, found, err := catalog.LoadFullDiagram(ctx, "absent"); found || err != nil {
		t.Fatalf("expected absent entry, found=%v err=%v", found, err)
	}

	full := fullDiagram("imported", baseInstant)
	if err := catalog.SaveDiagram(ctx, full); err != nil {
		t.Fatalf("expected pulled body to replace the projection, got %v", err)
	}
	loaded, found, err := catalog.LoadFullDiagram(ctx, "imported")
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(loaded, full) {
		t.Fatalf("unexpected diagram %#v", loaded)
	}
}

func TestAddDiagramRejectsEmptyID(t *testing.T) {
	catalog := newTestCatalog(t)
	err := catalog.AddDiagram(context.Background(), diagrams.ListItem{ID: "  "})
	if !errors.Is(err, diagrams.ErrInvalidDiagramID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestListDiagramsOrdersByUpdatedAtDescending(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.SaveDiagram(ctx, fullDiagram("older", baseInstant)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := catalog.SaveDiagram(ctx, fullDiagram("newer", baseInstant.Add(2*time.Hour))); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := catalog.AddDiagram(ctx, diagrams.ListItem{ID: "middle", Name: "Middle", CreatedAt: baseInstant, UpdatedAt: baseInstant.Add(time.Hour)}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	items, err := catalog.ListDiagrams(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var ids []string
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if !reflect.DeepEqual(ids, []string{"newer", "middle", "older"}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestSaveDiagramRejectsStaleUpdate(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.SaveDiagram(ctx, fullDiagram("d1", baseInstant.Add(time.Hour))); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err := catalog.SaveDiagram(ctx, fullDiagram("d1", baseInstant))
	if !errors.Is(err, diagrams.ErrStaleDiagram) {
		t.Fatalf("expected stale diagram error, got %v", err)
	}

	sameInstant := fullDiagram("d1", baseInstant.Add(time.Hour))
	sameInstant.Name = "Renamed"
	if err := catalog.SaveDiagram(ctx, sameInstant); err != nil {
		t.Fatalf("expected equal updatedAt to be accepted, got %v", err)
	}
	loaded, _, _ := catalog.LoadDiagram(ctx, "d1")
	if loaded.Name != "Renamed" {
		t.Fatalf("expected replacement to persist, got %q", loaded.Name)
	}
}

func TestDeleteDiagram(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	if err := catalog.SaveDiagram(ctx, fullDiagram("d1", baseInstant)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := catalog.DeleteDiagram(ctx, "d1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, found, _ := catalog.LoadDiagram(ctx, "d1"); found {
		t.Fatalf("expected diagram removed")
	}
	if err := catalog.DeleteDiagram(ctx, "d1"); !errors.Is(err, diagrams.ErrDiagramNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
