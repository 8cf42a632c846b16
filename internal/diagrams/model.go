package diagrams

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

// ErrInvalidDiagramID indicates that a diagram identifier is empty or exceeds storage bounds.
var ErrInvalidDiagramID = errors.New("diagrams: invalid diagram id")

// DiagramID represents a validated diagram identifier.
type DiagramID string

// NewDiagramID validates raw input and returns a DiagramID.
func NewDiagramID(rawInput string) (DiagramID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDiagramID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDiagramID, maxIdentifierLength)
	}
	return DiagramID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DiagramID) String() string {
	return string(id)
}

// DatabaseType names the database engine a diagram models.
type DatabaseType string

const (
	DatabaseTypeGeneric     DatabaseType = "generic"
	DatabaseTypePostgreSQL  DatabaseType = "postgresql"
	DatabaseTypeMySQL       DatabaseType = "mysql"
	DatabaseTypeMariaDB     DatabaseType = "mariadb"
	DatabaseTypeSQLite      DatabaseType = "sqlite"
	DatabaseTypeSQLServer   DatabaseType = "sql_server"
	DatabaseTypeClickHouse  DatabaseType = "clickhouse"
	DatabaseTypeCockroachDB DatabaseType = "cockroachdb"
	DatabaseTypeOracle      DatabaseType = "oracle"
)

// Cardinality enumerates the ends of a relationship.
type Cardinality string

const (
	CardinalityOne        Cardinality = "one"
	CardinalityMany       Cardinality = "many"
	CardinalityZeroOrOne  Cardinality = "zero_or_one"
	CardinalityZeroOrMany Cardinality = "zero_or_many"
)

// CustomTypeKind enumerates user-defined type kinds.
type CustomTypeKind string

const (
	CustomTypeKindEnum      CustomTypeKind = "enum"
	CustomTypeKindComposite CustomTypeKind = "composite"
)

// Diagram is the full document describing a database schema.
//
// A nil collection means the collection is absent, which is distinct from an
// empty one. The distinction survives encoding.
type Diagram struct {
	ID              string
	Name            string
	DatabaseType    DatabaseType
	DatabaseEdition *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Tables          []Table
	Relationships   []Relationship
	Dependencies    []Dependency
	Areas           []Area
	CustomTypes     []CustomType
	Notes           []Note
}

// ListItem projects a diagram to the fields used for catalog reconciliation.
func (d Diagram) ListItem() ListItem {
	return ListItem{
		ID:              d.ID,
		Name:            d.Name,
		DatabaseType:    d.DatabaseType,
		DatabaseEdition: d.DatabaseEdition,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// Table models a table or view on the canvas.
type Table struct {
	ID        string
	Name      string
	Schema    *string
	X         float64
	Y         float64
	Color     string
	IsView    bool
	CreatedAt time.Time
	Fields    []Field
	Indexes   []Index
	Comment   *string
}

// FieldType references a catalog or custom type by id and display name.
type FieldType struct {
	ID   string
	Name string
}

// Field models a table column.
type Field struct {
	ID         string
	Name       string
	Type       FieldType
	PrimaryKey bool
	Unique     bool
	Nullable   bool
	CreatedAt  time.Time
	Check      *string
	Default    *string
	Collation  *string
	Comment    *string
}

// Index covers an ordered list of field ids of the same table.
type Index struct {
	ID       string
	Name     string
	Unique   bool
	FieldIDs []string
}

// Relationship links a source field to a target field.
type Relationship struct {
	ID                string
	Name              string
	SourceSchema      *string
	SourceTableID     string
	SourceFieldID     string
	TargetSchema      *string
	TargetTableID     string
	TargetFieldID     string
	SourceCardinality Cardinality
	TargetCardinality Cardinality
	CreatedAt         time.Time
}

// Dependency records that one table (usually a view) depends on another.
type Dependency struct {
	ID               string
	Schema           *string
	TableID          string
	DependentSchema  *string
	DependentTableID string
	CreatedAt        time.Time
}

// Area is a labelled rectangle grouping tables on the canvas.
type Area struct {
	ID     string
	Name   string
	X      float64
	Y      float64
	Width  float64
	Height float64
	Color  string
}

// Note is a free-text sticky note on the canvas.
type Note struct {
	ID      string
	Content string
	X       float64
	Y       float64
	Width   float64
	Height  float64
	Color   string
}

// CustomTypeField is a member of a composite custom type.
type CustomTypeField struct {
	Field string
	Type  string
}

// CustomType is a user-defined enum or composite type.
type CustomType struct {
	ID     string
	Schema *string
	Name   string
	Kind   CustomTypeKind
	Values []string
	// Fields is nil when the kind carries no fields.
	Fields []CustomTypeField
}

// ListItem is the catalog projection of a Diagram.
type ListItem struct {
	ID              string
	Name            string
	DatabaseType    DatabaseType
	DatabaseEdition *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
