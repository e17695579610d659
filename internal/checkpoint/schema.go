package checkpoint

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/recallbench/internal/eval"
)

//go:embed report.schema.json
var reportSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Validate checks an encoded report against the embedded report schema.
func Validate(data []byte) error {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("report.schema.json", reportSchema)
	})
	if schemaErr != nil {
		return fmt.Errorf("checkpoint: compile schema: %w", schemaErr)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("checkpoint: decode report: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("checkpoint: report does not match schema: %w", err)
	}
	return nil
}

// decode validates data and parses it as a report.
func decode(data []byte) (*eval.Report, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	return eval.DecodeReport(data)
}

func encode(r *eval.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		return nil, fmt.Errorf("checkpoint: encode report: %w", err)
	}
	return buf.Bytes(), nil
}
