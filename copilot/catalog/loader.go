package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed assets/erp_endpoints.yaml
var defaultCatalogRaw []byte

// Document is the on-disk catalog shape: named endpoint templates, the
// (action type, discriminator) trigger table, and historical read plans.
type Document struct {
	Endpoints map[string]EndpointTemplate    `yaml:"endpoints"`
	Mappings  map[string]map[string][]string `yaml:"mappings"`
	Reads     map[string]map[string]ReadPlan `yaml:"reads"`
}

// Parse decodes a catalog document from raw YAML.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return doc, nil
}

// LoadFile reads a catalog document from path.
func LoadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(raw)
}

// DefaultDocument returns the embedded catalog shipped with the binary.
func DefaultDocument() Document {
	doc, err := Parse(defaultCatalogRaw)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return doc
}

// Load resolves the catalog document: from path when given, otherwise the
// embedded default.
func Load(path string) (Document, error) {
	if path == "" {
		return DefaultDocument(), nil
	}
	return LoadFile(path)
}
