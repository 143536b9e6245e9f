package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Validate checks that every call names a known tool and that its arguments
// satisfy the tool's parameter schema. The returned error text is fed back
// to the model verbatim on retry, so it names the exact problem.
func Validate(calls []tools.Call, schemas []tools.ToolSchema) error {
	byName := make(map[string]tools.ToolSchema, len(schemas))
	for _, s := range schemas {
		byName[s.Name] = s
	}

	for _, call := range calls {
		schema, ok := byName[call.Name]
		if !ok {
			return fmt.Errorf("tool %q does not exist, check available_tools for the correct name", call.Name)
		}
		for _, req := range schema.Parameters.Required {
			if _, present := call.Arguments[req]; !present {
				return fmt.Errorf("tool %q is missing required argument %q", call.Name, req)
			}
		}
		if err := validateArgs(call, schema); err != nil {
			return err
		}
	}
	return nil
}

// validateArgs runs the full JSON-schema check on the arguments. Compilation
// failures of our own schemas are programming errors, surfaced loudly.
func validateArgs(call tools.Call, schema tools.ToolSchema) error {
	raw, err := json.Marshal(schema.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameter schema of %q: %w", call.Name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode parameter schema of %q: %w", call.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(call.Name+".json", doc); err != nil {
		return fmt.Errorf("register parameter schema of %q: %w", call.Name, err)
	}
	compiled, err := compiler.Compile(call.Name + ".json")
	if err != nil {
		return fmt.Errorf("compile parameter schema of %q: %w", call.Name, err)
	}

	// Round-trip the arguments so integer literals and friends become plain
	// JSON values the validator understands.
	argsRaw, err := json.Marshal(call.Arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments of %q: %w", call.Name, err)
	}
	argsVal, err := jsonschema.UnmarshalJSON(bytes.NewReader(argsRaw))
	if err != nil {
		return fmt.Errorf("decode arguments of %q: %w", call.Name, err)
	}
	if err := compiled.Validate(argsVal); err != nil {
		return fmt.Errorf("arguments of %q are invalid: %w", call.Name, err)
	}
	return nil
}
