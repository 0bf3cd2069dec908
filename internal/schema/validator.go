// Package schema validates document frontmatter against optional per-type
// JSON schemas stored alongside the bank. Compiled schemas are cached.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sm-moshi/aimemory-sub003/internal/models"
	"github.com/sm-moshi/aimemory-sub003/internal/parser"
	"github.com/sm-moshi/aimemory-sub003/internal/pathguard"
)

// Validator resolves and applies per-type frontmatter schemas. A schema for
// document type T lives at <schemaDir>/T.json; absence of the file (or of
// the whole directory) is not an error, it just maps to schema_not_found.
type Validator struct {
	schemaDir string
	cache     sync.Map // type -> *gojsonschema.Schema
}

// New creates a Validator reading schemas from schemaDir. An empty dir
// disables validation entirely (every document reports unchecked).
func New(schemaDir string) *Validator {
	return &Validator{schemaDir: schemaDir}
}

// Outcome is the result of one validation pass.
type Outcome struct {
	Status     models.ValidationStatus
	Errors     []string
	SchemaUsed string
}

// Validate checks fm against the schema registered for docType.
func (v *Validator) Validate(docType string, fm *parser.Frontmatter) Outcome {
	if v.schemaDir == "" {
		return Outcome{Status: models.ValidationUnchecked}
	}
	schema, name, err := v.load(docType)
	if err != nil {
		return Outcome{Status: models.ValidationInvalid, Errors: []string{err.Error()}}
	}
	if schema == nil {
		return Outcome{Status: models.ValidationSchemaNotFound}
	}

	doc, err := json.Marshal(frontmatterDoc(fm))
	if err != nil {
		return Outcome{Status: models.ValidationInvalid, SchemaUsed: name, Errors: []string{err.Error()}}
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return Outcome{Status: models.ValidationInvalid, SchemaUsed: name, Errors: []string{err.Error()}}
	}
	if result.Valid() {
		return Outcome{Status: models.ValidationValid, SchemaUsed: name}
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return Outcome{Status: models.ValidationInvalid, SchemaUsed: name, Errors: errs}
}

// load returns the compiled schema for docType, or nil when none is defined.
func (v *Validator) load(docType string) (*gojsonschema.Schema, string, error) {
	if docType == "" {
		return nil, "", nil
	}
	if cached, ok := v.cache.Load(docType); ok {
		return cached.(*gojsonschema.Schema), docType + ".json", nil
	}

	// docType comes from document frontmatter, so it passes through the
	// same guard as every other relative path before hitting the filesystem.
	path, err := pathguard.Validate(docType+".json", v.schemaDir)
	if err != nil {
		return nil, "", fmt.Errorf("schema: type %q does not name a schema file: %w", docType, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("schema: read %s: %w", path, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, "", fmt.Errorf("schema: compile %s: %w", path, err)
	}
	v.cache.Store(docType, schema)
	return schema, docType + ".json", nil
}

// frontmatterDoc flattens the typed record back into the JSON shape schemas
// are written against.
func frontmatterDoc(fm *parser.Frontmatter) map[string]any {
	doc := map[string]any{}
	if fm == nil {
		return doc
	}
	if fm.ID != "" {
		doc["id"] = fm.ID
	}
	if fm.Type != "" {
		doc["type"] = fm.Type
	}
	if fm.Title != "" {
		doc["title"] = fm.Title
	}
	if fm.Description != "" {
		doc["description"] = fm.Description
	}
	if len(fm.Tags) > 0 {
		doc["tags"] = fm.Tags
	}
	if !fm.Created.IsZero() {
		doc["created"] = fm.Created.Format(time.RFC3339)
	}
	if !fm.Updated.IsZero() {
		doc["updated"] = fm.Updated.Format(time.RFC3339)
	}
	return doc
}
