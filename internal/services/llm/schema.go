package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompileSchema compiles a JSON Schema document held in a string.
func CompileSchema(name, document string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(document)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, document string) *jsonschema.Schema {
	schema, err := CompileSchema(name, document)
	if err != nil {
		panic(err)
	}
	return schema
}

// DecodeValidated decodes an LLM JSON payload, validates it against schema,
// and unmarshals it into target.
func DecodeValidated(schema *jsonschema.Schema, content string, target any) error {
	var generic any
	if err := DecodeLLMJSON(content, &generic); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(normalized, target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
