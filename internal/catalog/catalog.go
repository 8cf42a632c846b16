package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/database"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrProjectionOnly indicates the entry was imported from a remote catalog
	// listing and holds no diagram body yet.
	ErrProjectionOnly = errors.New("catalog: entry has no diagram body")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opNew    = "catalog.new"
	opList   = "catalog.list"
	opAdd    = "catalog.add"
	opLoad   = "catalog.load"
	opSave   = "catalog.save"
	opDelete = "catalog.delete"

	migrationClampUpdatedAt = "2026-02-01_clamp_catalog_updated_at"
)

// Entry is the persisted catalog row. Body holds the wire-encoded diagram and
// stays NULL for entries imported from a remote projection.
type Entry struct {
	ID              string         `gorm:"column:id;primaryKey;size:190;not null"`
	Name            string         `gorm:"column:name;not null"`
	DatabaseType    string         `gorm:"column:database_type;size:64;not null"`
	DatabaseEdition *string        `gorm:"column:database_edition;size:64"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null;index;autoUpdateTime:false"`
	Body            datatypes.JSON `gorm:"column:body"`
}

func (Entry) TableName() string {
	return "catalog_entries"
}

// Schema returns the models and migrations a catalog database needs.
func Schema() database.Schema {
	return database.Schema{
		Models: []any{&Entry{}},
		Migrations: []database.Migration{
			database.ClampUpdatedAt(migrationClampUpdatedAt, Entry{}.TableName()),
		},
	}
}

// Config wires catalog dependencies.
type Config struct {
	Database *gorm.DB
	Codec    *wire.Codec
	Logger   *zap.Logger
}

// Catalog is the id-keyed diagram store backed by gorm.
type Catalog struct {
	db     *gorm.DB
	codec  *wire.Codec
	logger *zap.Logger
}

// NewCatalog constructs a Catalog.
func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.Database == nil {
		return nil, diagrams.NewServiceError(opNew, "missing_database", errMissingDatabase)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.NewCodec(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Catalog{db: cfg.Database, codec: codec, logger: logger}, nil
}

// ListDiagrams returns every catalog projection, most recently updated first.
func (c *Catalog) ListDiagrams(ctx context.Context) ([]diagrams.ListItem, error) {
	var entries []Entry
	if err := c.db.WithContext(ctx).
		Select("id", "name", "database_type", "database_edition", "created_at", "updated_at").
		Order("updated_at DESC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		c.logError(opList, "query_failed", err)
		return nil, diagrams.NewServiceError(opList, "query_failed", err)
	}

	items := make([]diagrams.ListItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entry.listItem())
	}
	return items, nil
}

// AddDiagram inserts a projection-only entry. An existing entry with the same
// id is left untouched.
func (c *Catalog) AddDiagram(ctx context.Context, item diagrams.ListItem) error {
	if _, err := diagrams.NewDiagramID(item.ID); err != nil {
		return diagrams.NewServiceError(opAdd, "invalid_id", err)
	}
	entry := entryFromListItem(item)
	if err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error; err != nil {
		c.logError(opAdd, "insert_failed", err, zap.String("diagram_id", item.ID))
		return diagrams.NewServiceError(opAdd, "insert_failed", err)
	}
	return nil
}

// LoadDiagram returns the diagram stored under id. Projection-only entries load
// as a diagram without collections.
func (c *Catalog) LoadDiagram(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error) {
	var entry Entry
	err := c.db.WithContext(ctx).Where("id = ?", diagramID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return diagrams.Diagram{}, false, nil
	}
	if err != nil {
		c.logError(opLoad, "query_failed", err, zap.String("diagram_id", diagramID))
		return diagrams.Diagram{}, false, diagrams.NewServiceError(opLoad, "query_failed", err)
	}

	if len(entry.Body) == 0 {
		item := entry.listItem()
		return diagrams.Diagram{
			ID:              item.ID,
			Name:            item.Name,
			DatabaseType:    item.DatabaseType,
			DatabaseEdition: item.DatabaseEdition,
			CreatedAt:       item.CreatedAt,
			UpdatedAt:       item.UpdatedAt,
		}, true, nil
	}

	diagram, err := c.codec.Unmarshal(entry.Body)
	if err != nil {
		c.logError(opLoad, "decode_failed", err, zap.String("diagram_id", diagramID))
		return diagrams.Diagram{}, false, diagrams.NewServiceError(opLoad, "decode_failed", err)
	}
	return diagram, true, nil
}

// LoadFullDiagram is LoadDiagram for callers that need the diagram contents.
// Projection-only entries fail with ErrProjectionOnly instead of loading as
// an empty diagram.
func (c *Catalog) LoadFullDiagram(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error) {
	var entry Entry
	err := c.db.WithContext(ctx).Select("id", "body").Where("id = ?", diagramID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return diagrams.Diagram{}, false, nil
	}
	if err != nil {
		c.logError(opLoad, "query_failed", err, zap.String("diagram_id", diagramID))
		return diagrams.Diagram{}, false, diagrams.NewServiceError(opLoad, "query_failed", err)
	}
	if len(entry.Body) == 0 {
		return diagrams.Diagram{}, true, diagrams.NewServiceError(opLoad, "projection_only", ErrProjectionOnly)
	}
	return c.LoadDiagram(ctx, diagramID)
}

// SaveDiagram creates or replaces the full diagram. Writes whose updatedAt
// precedes the stored version fail with diagrams.ErrStaleDiagram.
func (c *Catalog) SaveDiagram(ctx context.Context, diagram diagrams.Diagram) error {
	if _, err := diagrams.NewDiagramID(diagram.ID); err != nil {
		return diagrams.NewServiceError(opSave, "invalid_id", err)
	}
	body, err := c.codec.Marshal(diagram)
	if err != nil {
		return diagrams.NewServiceError(opSave, "encode_failed", err)
	}
	entry := entryFromListItem(diagram.ListItem())
	entry.Body = datatypes.JSON(body)

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Entry
		err := tx.Select("id", "updated_at").Where("id = ?", diagram.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			c.logError(opSave, "select_failed", err, zap.String("diagram_id", diagram.ID))
			return diagrams.NewServiceError(opSave, "select_failed", err)
		case existing.UpdatedAt.After(entry.UpdatedAt):
			return diagrams.NewServiceError(opSave, "stale_update",
				fmt.Errorf("%w: stored %s, incoming %s", diagrams.ErrStaleDiagram,
					wire.FormatTimestamp(existing.UpdatedAt), wire.FormatTimestamp(entry.UpdatedAt)))
		}

		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
			c.logError(opSave, "upsert_failed", err, zap.String("diagram_id", diagram.ID))
			return diagrams.NewServiceError(opSave, "upsert_failed", err)
		}
		return nil
	})
}

// DeleteDiagram removes the entry for id.
func (c *Catalog) DeleteDiagram(ctx context.Context, diagramID string) error {
	result := c.db.WithContext(ctx).Where("id = ?", diagramID).Delete(&Entry{})
	if result.Error != nil {
		c.logError(opDelete, "delete_failed", result.Error, zap.String("diagram_id", diagramID))
		return diagrams.NewServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return diagrams.NewServiceError(opDelete, "not_found", diagrams.ErrDiagramNotFound)
	}
	return nil
}

func (e Entry) listItem() diagrams.ListItem {
	return diagrams.ListItem{
		ID:              e.ID,
		Name:            e.Name,
		DatabaseType:    diagrams.DatabaseType(e.DatabaseType),
		DatabaseEdition: e.DatabaseEdition,
		CreatedAt:       e.CreatedAt.UTC(),
		UpdatedAt:       e.UpdatedAt.UTC(),
	}
}

func entryFromListItem(item diagrams.ListItem) Entry {
	return Entry{
		ID:              item.ID,
		Name:            item.Name,
		DatabaseType:    string(item.DatabaseType),
		DatabaseEdition: item.DatabaseEdition,
		CreatedAt:       item.CreatedAt.UTC(),
		UpdatedAt:       item.UpdatedAt.UTC(),
	}
}

func (c *Catalog) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("catalog error", attrs...)
}
