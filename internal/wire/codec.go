package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
)

// ErrInvalidTimestamp indicates that a wire timestamp is not ISO-8601.
var ErrInvalidTimestamp = errors.New("wire: invalid timestamp")

// Codec maps between the internal diagram model and the wire representation.
//
// Absent createdAt values are backfilled with the codec clock on decode, so
// decoding the same payload twice can yield different timestamps.
type Codec struct {
	clock func() time.Time
}

// NewCodec constructs a Codec. A nil clock defaults to time.Now.
func NewCodec(clock func() time.Time) *Codec {
	if clock == nil {
		clock = time.Now
	}
	return &Codec{clock: clock}
}

// FormatTimestamp renders an instant as an ISO-8601 UTC string.
func FormatTimestamp(instant time.Time) string {
	return instant.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an ISO-8601 string into a UTC instant.
func ParseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
	}
	return parsed.UTC(), nil
}

// Marshal encodes a diagram and serializes it to JSON.
func (c *Codec) Marshal(diagram diagrams.Diagram) ([]byte, error) {
	return json.Marshal(c.Encode(diagram))
}

// Unmarshal parses JSON and decodes it into a diagram.
func (c *Codec) Unmarshal(data []byte) (diagrams.Diagram, error) {
	var payload Diagram
	if err := json.Unmarshal(data, &payload); err != nil {
		return diagrams.Diagram{}, err
	}
	return c.Decode(payload)
}

// Encode converts a diagram to its wire form. Collections absent on the
// diagram are omitted from the output.
func (c *Codec) Encode(diagram diagrams.Diagram) Diagram {
	encoded := Diagram{
		ID:              diagram.ID,
		Name:            diagram.Name,
		DatabaseType:    string(diagram.DatabaseType),
		DatabaseEdition: diagram.DatabaseEdition,
		CreatedAt:       FormatTimestamp(diagram.CreatedAt),
		UpdatedAt:       FormatTimestamp(diagram.UpdatedAt),
	}
	if diagram.Tables != nil {
		tables := make([]Table, 0, len(diagram.Tables))
		for _, table := range diagram.Tables {
			tables = append(tables, encodeTable(table))
		}
		encoded.Tables = &tables
	}
	if diagram.Relationships != nil {
		relationships := make([]Relationship, 0, len(diagram.Relationships))
		for _, relationship := range diagram.Relationships {
			relationships = append(relationships, Relationship{
				ID:                relationship.ID,
				Name:              relationship.Name,
				SourceSchema:      relationship.SourceSchema,
				SourceTableID:     relationship.SourceTableID,
				SourceFieldID:     relationship.SourceFieldID,
				TargetSchema:      relationship.TargetSchema,
				TargetTableID:     relationship.TargetTableID,
				TargetFieldID:     relationship.TargetFieldID,
				SourceCardinality: string(relationship.SourceCardinality),
				TargetCardinality: string(relationship.TargetCardinality),
				CreatedAt:         optionalTimestamp(relationship.CreatedAt),
			})
		}
		encoded.Relationships = &relationships
	}
	if diagram.Dependencies != nil {
		dependencies := make([]Dependency, 0, len(diagram.Dependencies))
		for _, dependency := range diagram.Dependencies {
			dependencies = append(dependencies, Dependency{
				ID:               dependency.ID,
				Schema:           dependency.Schema,
				TableID:          dependency.TableID,
				DependentSchema:  dependency.DependentSchema,
				DependentTableID: dependency.DependentTableID,
				CreatedAt:        optionalTimestamp(dependency.CreatedAt),
			})
		}
		encoded.Dependencies = &dependencies
	}
	if diagram.Areas != nil {
		areas := make([]Area, 0, len(diagram.Areas))
		for _, area := range diagram.Areas {
			areas = append(areas, Area(area))
		}
		encoded.Areas = &areas
	}
	if diagram.CustomTypes != nil {
		customTypes := make([]CustomType, 0, len(diagram.CustomTypes))
		for _, customType := range diagram.CustomTypes {
			customTypes = append(customTypes, encodeCustomType(customType))
		}
		encoded.CustomTypes = &customTypes
	}
	if diagram.Notes != nil {
		notes := make([]Note, 0, len(diagram.Notes))
		for _, note := range diagram.Notes {
			notes = append(notes, Note(note))
		}
		encoded.Notes = &notes
	}
	return encoded
}

func encodeTable(table diagrams.Table) Table {
	encoded := Table{
		ID:        table.ID,
		Name:      table.Name,
		Schema:    table.Schema,
		X:         table.X,
		Y:         table.Y,
		Color:     table.Color,
		IsView:    table.IsView,
		CreatedAt: optionalTimestamp(table.CreatedAt),
		Comment:   table.Comment,
	}
	if table.Fields != nil {
		fields := make([]Field, 0, len(table.Fields))
		for _, field := range table.Fields {
			fields = append(fields, Field{
				ID:         field.ID,
				Name:       field.Name,
				Type:       FieldType{ID: field.Type.ID, Name: field.Type.Name},
				PrimaryKey: field.PrimaryKey,
				Unique:     field.Unique,
				Nullable:   field.Nullable,
				CreatedAt:  optionalTimestamp(field.CreatedAt),
				Check:      field.Check,
				Default:    field.Default,
				Collation:  field.Collation,
				Comment:    field.Comment,
			})
		}
		encoded.Fields = &fields
	}
	if table.Indexes != nil {
		indexes := make([]Index, 0, len(table.Indexes))
		for _, index := range table.Indexes {
			indexes = append(indexes, Index{
				ID:       index.ID,
				Name:     index.Name,
				Unique:   index.Unique,
				FieldIDs: nonNilStrings(index.FieldIDs),
			})
		}
		encoded.Indexes = &indexes
	}
	return encoded
}

func encodeCustomType(customType diagrams.CustomType) CustomType {
	encoded := CustomType{
		ID:     customType.ID,
		Schema: customType.Schema,
		Name:   customType.Name,
		Kind:   string(customType.Kind),
	}
	if customType.Values != nil {
		values := append([]string{}, customType.Values...)
		encoded.Values = &values
	}
	if customType.Fields != nil {
		fields := make([]CustomTypeField, 0, len(customType.Fields))
		for _, field := range customType.Fields {
			fields = append(fields, CustomTypeField(field))
		}
		encoded.Fields = &fields
	}
	return encoded
}

// Decode converts a wire diagram to the internal model. Only malformed
// timestamps fail; missing ones default to the codec clock.
func (c *Codec) Decode(payload Diagram) (diagrams.Diagram, error) {
	now := c.clock().UTC()
	createdAt, err := c.timestampOrNow(payload.CreatedAt, now)
	if err != nil {
		return diagrams.Diagram{}, fmt.Errorf("diagram createdAt: %w", err)
	}
	updatedAt, err := c.timestampOrNow(payload.UpdatedAt, now)
	if err != nil {
		return diagrams.Diagram{}, fmt.Errorf("diagram updatedAt: %w", err)
	}

	decoded := diagrams.Diagram{
		ID:              payload.ID,
		Name:            payload.Name,
		DatabaseType:    diagrams.DatabaseType(payload.DatabaseType),
		DatabaseEdition: payload.DatabaseEdition,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}

	if payload.Tables != nil {
		decoded.Tables = make([]diagrams.Table, 0, len(*payload.Tables))
		for _, table := range *payload.Tables {
			decodedTable, tableErr := c.decodeTable(table, now)
			if tableErr != nil {
				return diagrams.Diagram{}, fmt.Errorf("table %s: %w", table.ID, tableErr)
			}
			decoded.Tables = append(decoded.Tables, decodedTable)
		}
	}
	if payload.Relationships != nil {
		decoded.Relationships = make([]diagrams.Relationship, 0, len(*payload.Relationships))
		for _, relationship := range *payload.Relationships {
			relationshipCreatedAt, tsErr := c.timestampOrNow(relationship.CreatedAt, now)
			if tsErr != nil {
				return diagrams.Diagram{}, fmt.Errorf("relationship %s: %w", relationship.ID, tsErr)
			}
			decoded.Relationships = append(decoded.Relationships, diagrams.Relationship{
				ID:                relationship.ID,
				Name:              relationship.Name,
				SourceSchema:      relationship.SourceSchema,
				SourceTableID:     relationship.SourceTableID,
				SourceFieldID:     relationship.SourceFieldID,
				TargetSchema:      relationship.TargetSchema,
				TargetTableID:     relationship.TargetTableID,
				TargetFieldID:     relationship.TargetFieldID,
				SourceCardinality: diagrams.Cardinality(relationship.SourceCardinality),
				TargetCardinality: diagrams.Cardinality(relationship.TargetCardinality),
				CreatedAt:         relationshipCreatedAt,
			})
		}
	}
	if payload.Dependencies != nil {
		decoded.Dependencies = make([]diagrams.Dependency, 0, len(*payload.Dependencies))
		for _, dependency := range *payload.Dependencies {
			dependencyCreatedAt, tsErr := c.timestampOrNow(dependency.CreatedAt, now)
			if tsErr != nil {
				return diagrams.Diagram{}, fmt.Errorf("dependency %s: %w", dependency.ID, tsErr)
			}
			decoded.Dependencies = append(decoded.Dependencies, diagrams.Dependency{
				ID:               dependency.ID,
				Schema:           dependency.Schema,
				TableID:          dependency.TableID,
				DependentSchema:  dependency.DependentSchema,
				DependentTableID: dependency.DependentTableID,
				CreatedAt:        dependencyCreatedAt,
			})
		}
	}
	if payload.Areas != nil {
		decoded.Areas = make([]diagrams.Area, 0, len(*payload.Areas))
		for _, area := range *payload.Areas {
			decoded.Areas = append(decoded.Areas, diagrams.Area(area))
		}
	}
	if payload.CustomTypes != nil {
		decoded.CustomTypes = make([]diagrams.CustomType, 0, len(*payload.CustomTypes))
		for _, customType := range *payload.CustomTypes {
			decoded.CustomTypes = append(decoded.CustomTypes, decodeCustomType(customType))
		}
	}
	if payload.Notes != nil {
		decoded.Notes = make([]diagrams.Note, 0, len(*payload.Notes))
		for _, note := range *payload.Notes {
			decoded.Notes = append(decoded.Notes, diagrams.Note(note))
		}
	}
	return decoded, nil
}

func (c *Codec) decodeTable(table Table, now time.Time) (diagrams.Table, error) {
	createdAt, err := c.timestampOrNow(table.CreatedAt, now)
	if err != nil {
		return diagrams.Table{}, err
	}
	decoded := diagrams.Table{
		ID:        table.ID,
		Name:      table.Name,
		Schema:    table.Schema,
		X:         table.X,
		Y:         table.Y,
		Color:     table.Color,
		IsView:    table.IsView,
		CreatedAt: createdAt,
		Indexes:   []diagrams.Index{},
		Comment:   table.Comment,
	}
	if table.Fields != nil {
		decoded.Fields = make([]diagrams.Field, 0, len(*table.Fields))
		for _, field := range *table.Fields {
			fieldCreatedAt, fieldErr := c.timestampOrNow(field.CreatedAt, now)
			if fieldErr != nil {
				return diagrams.Table{}, fmt.Errorf("field %s: %w", field.ID, fieldErr)
			}
			decoded.Fields = append(decoded.Fields, diagrams.Field{
				ID:         field.ID,
				Name:       field.Name,
				Type:       diagrams.FieldType{ID: field.Type.ID, Name: field.Type.Name},
				PrimaryKey: field.PrimaryKey,
				Unique:     field.Unique,
				Nullable:   field.Nullable,
				CreatedAt:  fieldCreatedAt,
				Check:      field.Check,
				Default:    field.Default,
				Collation:  field.Collation,
				Comment:    field.Comment,
			})
		}
	}
	if table.Indexes != nil {
		for _, index := range *table.Indexes {
			decoded.Indexes = append(decoded.Indexes, diagrams.Index{
				ID:       index.ID,
				Name:     index.Name,
				Unique:   index.Unique,
				FieldIDs: nonNilStrings(index.FieldIDs),
			})
		}
	}
	return decoded, nil
}

func decodeCustomType(customType CustomType) diagrams.CustomType {
	decoded := diagrams.CustomType{
		ID:     customType.ID,
		Schema: customType.Schema,
		Name:   customType.Name,
		Kind:   diagrams.CustomTypeKind(customType.Kind),
	}
	if customType.Values != nil {
		decoded.Values = append([]string{}, *customType.Values...)
	}
	if customType.Fields != nil {
		decoded.Fields = make([]diagrams.CustomTypeField, 0, len(*customType.Fields))
		for _, field := range *customType.Fields {
			decoded.Fields = append(decoded.Fields, diagrams.CustomTypeField(field))
		}
	}
	return decoded
}

func (c *Codec) timestampOrNow(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	return ParseTimestamp(value)
}

func optionalTimestamp(instant time.Time) string {
	if instant.IsZero() {
		return ""
	}
	return FormatTimestamp(instant)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string{}, values...)
}
