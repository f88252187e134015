package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/qri-io/jsonschema"
)

// SchemaFor reflects a Go struct type into a validating JSON schema. Field
// names follow the json tags; jsonschema and jsonschema_description tags
// refine the generated document. Additional properties are rejected, so a
// call with unknown argument fields fails validation.
func SchemaFor[T any]() *jsonschema.Schema {
	reflector := invopop.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	reflected := reflector.Reflect(v)

	// The reflected document is valid JSON schema, so the round-trip into
	// the validating representation cannot fail.
	bs, _ := json.Marshal(reflected)
	schema := &jsonschema.Schema{}
	_ = json.Unmarshal(bs, schema)

	return schema
}

// MustSchema parses a raw JSON schema document, panicking on malformed
// input. Intended for schema literals compiled into the binary.
func MustSchema(data []byte) *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		panic(fmt.Sprintf("invalid schema literal: %s", err))
	}
	return schema
}

// validateAgainst checks a raw JSON value against schema, reporting the
// first violation with its property path. A nil schema accepts anything.
func validateAgainst(ctx context.Context, schema *jsonschema.Schema, value json.RawMessage, kind ErrorKind) *CallError {
	if schema == nil {
		return nil
	}
	if len(value) == 0 {
		value = json.RawMessage("{}")
	}

	keyErrs, err := schema.ValidateBytes(ctx, value)
	if err != nil {
		return &CallError{
			Kind:    kind,
			Message: fmt.Sprintf("invalid value: %s", err),
		}
	}
	if len(keyErrs) > 0 {
		return &CallError{
			Kind:    kind,
			Message: keyErrs[0].Message,
			Path:    keyErrs[0].PropertyPath,
		}
	}
	return nil
}
