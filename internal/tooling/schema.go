package tooling

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// marshalFunc is the JSON marshaler used by GenerateSchema. Package-level so
// tests can inject a failing marshaler to cover the error return path.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// GenerateSchema generates a JSON Schema string from a Go struct using
// invopop/jsonschema reflection. Fields without omitempty are required.
// The $schema and $id keywords are dropped because model APIs reject them in
// tool input schemas.
func GenerateSchema(input interface{}) string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(input)
	schema.Version = ""
	schema.ID = ""

	schemaBytes, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}

// CompileSchema compiles a JSON Schema string for repeated validation.
func CompileSchema(schemaStr string) (*jsonschema.Schema, error) {
	schema, err := jsonschema.CompileString("", schemaStr)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// ValidateAgainstSchema validates JSON input against a JSON Schema string.
func ValidateAgainstSchema(input json.RawMessage, schemaStr string) error {
	schema, err := CompileSchema(schemaStr)
	if err != nil {
		return err
	}
	return validateCompiled(input, schema)
}

func validateCompiled(input json.RawMessage, schema *jsonschema.Schema) error {
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var inputData interface{}
	if err := dec.Decode(&inputData); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := schema.Validate(inputData); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
