package registry

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateConfig checks config against the JSON schema of nodeType.
// Unknown node types and factories without a schema are accepted.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	factory, err := r.Factory(nodeType)
	if err != nil {
		return nil
	}

	schema := factory.Schema()
	if len(schema) == 0 {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("invalid schema for node type '%s': %w", nodeType, err)
	}

	if !result.Valid() {
		var errors []string
		for _, resultError := range result.Errors() {
			errors = append(errors, resultError.String())
		}

		return fmt.Errorf("config does not match schema of '%s': %s", nodeType, strings.Join(errors, "; "))
	}

	return nil
}
