package plugins

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goDefinitionFuncName = "GradeDefinitions"

// loadGoDefinitionFile interprets one Go plugin and collects the grades its
// GradeDefinitions function returns. Go plugins can derive coefficients
// (band ratios, sensor constants) that a static YAML file cannot.
func loadGoDefinitionFile(path string) ([]DefinitionFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib for %s: %w", path, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(goDefinitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s() ([]map[string]any, error): %w", path, goDefinitionFuncName, err)
	}
	raw, err := callDefinitions(fnValue)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("plugin: %s: %s returned no grades", path, goDefinitionFuncName)
	}
	defs := make([]GradeDefinition, 0, len(raw))
	for idx, entry := range raw {
		// Round-trip through YAML so Go and YAML plugins share one schema.
		payload, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s grade %d: %w", path, idx+1, err)
		}
		def, err := ParseDefinitionYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s grade %d: %w", path, idx+1, err)
		}
		defs = append(defs, def)
	}
	return labelDefinitions(path, defs), nil
}

// callDefinitions invokes the interpreted function, accepting either
// []map[string]any or ([]map[string]any, error).
func callDefinitions(fn reflect.Value) ([]map[string]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goDefinitionFuncName)
	}
	if fn.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must take no arguments", goDefinitionFuncName)
	}
	results := fn.Call(nil)
	switch len(results) {
	case 1:
	case 2:
		if errVal := results[1]; !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok {
				return nil, e
			}
			return nil, fmt.Errorf("%s returned a non-error second value", goDefinitionFuncName)
		}
	default:
		return nil, fmt.Errorf("%s must return []map[string]any and optionally an error", goDefinitionFuncName)
	}
	list := results[0]
	if direct, ok := list.Interface().([]map[string]any); ok {
		return direct, nil
	}
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return a slice of maps", goDefinitionFuncName)
	}
	out := make([]map[string]any, list.Len())
	for idx := 0; idx < list.Len(); idx++ {
		m, ok := list.Index(idx).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: grade %d is not a map[string]any", goDefinitionFuncName, idx+1)
		}
		out[idx] = m
	}
	return out, nil
}
