package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Diagram is the camelCase JSON shape exchanged with the remote store.
type Diagram struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	DatabaseType    string          `json:"databaseType"`
	DatabaseEdition *string         `json:"databaseEdition,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	Tables          *[]Table        `json:"tables,omitempty"`
	Relationships   *[]Relationship `json:"relationships,omitempty"`
	Dependencies    *[]Dependency   `json:"dependencies,omitempty"`
	Areas           *[]Area         `json:"areas,omitempty"`
	CustomTypes     *[]CustomType   `json:"customTypes,omitempty"`
	Notes           *[]Note         `json:"notes,omitempty"`
}

type Table struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Schema    *string  `json:"schema,omitempty"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Color     string   `json:"color"`
	IsView    bool     `json:"isView"`
	CreatedAt string   `json:"createdAt,omitempty"`
	Fields    *[]Field `json:"fields,omitempty"`
	Indexes   *[]Index `json:"indexes,omitempty"`
	Comment   *string  `json:"comment,omitempty"`
}

type Field struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	PrimaryKey bool      `json:"primaryKey"`
	Unique     bool      `json:"unique"`
	Nullable   bool      `json:"nullable"`
	CreatedAt  string    `json:"createdAt,omitempty"`
	Check      *string   `json:"check,omitempty"`
	Default    *string   `json:"default,omitempty"`
	Collation  *string   `json:"collation,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
}

type Index struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Unique   bool     `json:"unique"`
	FieldIDs []string `json:"fieldIds"`
}

type Relationship struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	SourceSchema      *string `json:"sourceSchema,omitempty"`
	SourceTableID     string  `json:"sourceTableId"`
	SourceFieldID     string  `json:"sourceFieldId"`
	TargetSchema      *string `json:"targetSchema,omitempty"`
	TargetTableID     string  `json:"targetTableId"`
	TargetFieldID     string  `json:"targetFieldId"`
	SourceCardinality string  `json:"sourceCardinality"`
	TargetCardinality string  `json:"targetCardinality"`
	CreatedAt         string  `json:"createdAt,omitempty"`
}

type Dependency struct {
	ID               string  `json:"id"`
	Schema           *string `json:"schema,omitempty"`
	TableID          string  `json:"tableId"`
	DependentSchema  *string `json:"dependentSchema,omitempty"`
	DependentTableID string  `json:"dependentTableId"`
	CreatedAt        string  `json:"createdAt,omitempty"`
}

type Area struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  string  `json:"color"`
}

type Note struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Color   string  `json:"color"`
}

type CustomTypeField struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

type CustomType struct {
	ID     string             `json:"id"`
	Schema *string            `json:"schema,omitempty"`
	Name   string             `json:"name"`
	Kind   string             `json:"kind"`
	Values *[]string          `json:"values,omitempty"`
	Fields *[]CustomTypeField `json:"fields,omitempty"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// FieldType accepts either a bare type name or an {id,name} object and
// always marshals as the object form.
type FieldType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NormalizeTypeName derives the synthetic type id for a bare type name.
func NormalizeTypeName(name string) FieldType {
	return FieldType{
		ID:   whitespaceRun.ReplaceAllString(strings.ToLower(name), "_"),
		Name: name,
	}
}

func (t *FieldType) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*t = FieldType{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return err
		}
		*t = NormalizeTypeName(name)
		return nil
	}
	type plain FieldType
	var structured plain
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return fmt.Errorf("field type: %w", err)
	}
	*t = FieldType(structured)
	return nil
}
