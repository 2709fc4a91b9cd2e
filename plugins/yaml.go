package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed grade definition with where it was declared.
// Path is the file, suffixed #n when the file declares several grades.
type DefinitionFile struct {
	Definition GradeDefinition
	Path       string
}

// ParseDefinitionYAML decodes and validates a single grade definition.
func ParseDefinitionYAML(data []byte) (GradeDefinition, error) {
	defs, err := parseDefinitionDocuments(data)
	if err != nil {
		return GradeDefinition{}, err
	}
	if len(defs) != 1 {
		return GradeDefinition{}, fmt.Errorf("plugin: expected one definition, found %d", len(defs))
	}
	return defs[0], nil
}

// parseDefinitionDocuments accepts a stream of `---` separated grades so a
// sensor's whole grade family can live in one file.
func parseDefinitionDocuments(data []byte) ([]GradeDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plugin: definition payload is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var defs []GradeDefinition
	for doc := 1; ; doc++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("plugin: decode document %d: %w", doc, err)
		}
		if emptyDocument(&node) {
			continue
		}
		var def GradeDefinition
		if err := node.Decode(&def); err != nil {
			return nil, fmt.Errorf("plugin: decode document %d: %w", doc, err)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def.Normalized())
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("plugin: definition payload is empty")
	}
	return defs, nil
}

func emptyDocument(node *yaml.Node) bool {
	if node.Kind == 0 {
		return true
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return true
		}
		node = node.Content[0]
	}
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

// LoadDefinitionFile reads every grade declared in one YAML file.
func LoadDefinitionFile(path string) ([]DefinitionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	defs, err := parseDefinitionDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return labelDefinitions(path, defs), nil
}

func labelDefinitions(path string, defs []GradeDefinition) []DefinitionFile {
	out := make([]DefinitionFile, len(defs))
	for i, def := range defs {
		label := path
		if len(defs) > 1 {
			label = fmt.Sprintf("%s#%d", path, i+1)
		}
		out[i] = DefinitionFile{Definition: def, Path: label}
	}
	return out
}
