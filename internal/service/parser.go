package service

import (
	"encoding/json"
	"fmt"
)

// StructuralParser is the default Parser: it only checks that the body is
// valid JSON and that resourceType in the body agrees with the path, per
// spec §4.8's baseline (no profile/terminology validation). A
// profile-aware Parser can be substituted at wiring time without touching
// ResourceService.
type StructuralParser struct{}

func (StructuralParser) Parse(resourceType string, raw []byte) (map[string]interface{}, error) {
	var resource map[string]interface{}
	if err := json.Unmarshal(raw, &resource); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if rt, ok := resource["resourceType"].(string); ok && rt != "" && rt != resourceType {
		return nil, fmt.Errorf("resourceType %q in body does not match path resource type %q", rt, resourceType)
	}
	return resource, nil
}

func (StructuralParser) Validate(resourceType string, resource map[string]interface{}) error {
	if len(resource) == 0 {
		return fmt.Errorf("resource body is empty")
	}
	return nil
}

func (StructuralParser) Serialize(resource map[string]interface{}) ([]byte, error) {
	return json.Marshal(resource)
}
