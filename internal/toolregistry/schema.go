package toolregistry

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema compiles a raw JSON Schema document for a named tool.
func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://" + name + ".json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader([]byte(doc))); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}

// jsonUnmarshal decodes a JSON document into v, used to hand the
// jsonschema validator a plain `any` tree.
func jsonUnmarshal(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}
