package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://wec.schemas.local/report.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("report schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("report schema compile failed: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Validate checks doc against the report schema, then checks that event
// sequence numbers strictly increase.
func Validate(doc Document) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("report schema validation failed: %w", err)
	}

	var prev int64
	for i, e := range doc.Events {
		if e.Seq <= prev {
			return fmt.Errorf("report validation failed: event %d has seq %d after %d", i, e.Seq, prev)
		}
		prev = e.Seq
	}
	return nil
}
