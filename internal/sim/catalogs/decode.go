package catalogs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/opportunities.schema.json
var opportunitySchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func opportunitySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("opportunities.schema.json", opportunitySchemaJSON)
	})
	return schema, schemaErr
}

// DecodeOpportunities parses one opportunity pack. JSON packs may be a bare
// array or an object with an "opportunities" array; TOML packs use
// [[opportunities]] tables. Both forms are validated against the same schema.
func DecodeOpportunities(name string, raw []byte) ([]OpportunityDef, error) {
	doc, err := normalizeDoc(name, raw)
	if err != nil {
		return nil, err
	}

	s, err := opportunitySchema()
	if err != nil {
		return nil, fmt.Errorf("opportunities schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("opportunity %s: %w", name, err)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("opportunity %s: %w", name, err)
	}
	var f struct {
		Opportunities []OpportunityDef `json:"opportunities"`
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("opportunity %s: %w", name, err)
	}
	return f.Opportunities, nil
}

// normalizeDoc produces the generic JSON value tree the validator expects
// (float64 numbers, map[string]any objects) regardless of the source format.
func normalizeDoc(name string, raw []byte) (any, error) {
	var generic any
	switch {
	case strings.HasSuffix(name, ".toml"):
		var m map[string]any
		if err := toml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("opportunity %s: %w", name, err)
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("opportunity %s: %w", name, err)
		}
		if err := json.Unmarshal(b, &generic); err != nil {
			return nil, fmt.Errorf("opportunity %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("opportunity %s: %w", name, err)
		}
	}
	if list, ok := generic.([]any); ok {
		generic = map[string]any{"opportunities": list}
	}
	return generic, nil
}
