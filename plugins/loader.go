package plugins

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir reads every grade plugin in dir: YAML files (.yaml, .yml) and Go
// sources (.go) interpreted with yaegi. Other files are ignored and a missing
// directory means no plugins. Results follow file name order, then
// declaration order within a file.
func LoadDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		var loaded []DefinitionFile
		switch pluginKind(entry.Name()) {
		case kindYAML:
			loaded, err = LoadDefinitionFile(path)
		case kindGo:
			loaded, err = loadGoDefinitionFile(path)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

type fileKind int

const (
	kindOther fileKind = iota
	kindYAML
	kindGo
)

func pluginKind(name string) fileKind {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".yaml", ".yml":
		return kindYAML
	case ".go":
		if strings.HasSuffix(name, "_test.go") {
			return kindOther
		}
		return kindGo
	default:
		return kindOther
	}
}
