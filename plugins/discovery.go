package plugins

import (
	"fmt"

	"github.com/kingrea/reefcomp/internal/config"
	"github.com/kingrea/reefcomp/internal/grade"
)

// RegisterGradePlugins discovers YAML and Go grade definitions under
// .reefcomp/grades and registers them. Plugin ids may not shadow built-in
// grades. It returns the registered definitions in load order.
func RegisterGradePlugins(reg *grade.Registry, cfg *config.Config) ([]DefinitionFile, error) {
	if reg == nil || cfg == nil {
		return nil, nil
	}
	defs, err := LoadDir(cfg.GradesDir())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(defs))
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return nil, fmt.Errorf("plugin: duplicate grade id %s (%s and %s)", def.ID, existing, file.Path)
		}
		seen[def.ID] = file.Path
		if err := reg.Register(def.ID, newPluginFactory(file)); err != nil {
			return nil, fmt.Errorf("plugin: register %s from %s: %w", def.ID, file.Path, err)
		}
	}
	return defs, nil
}
