package plugins

import (
	"fmt"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/raster"
)

// pluginGrade is a linear grade that remembers where it was declared so
// render failures point at the plugin file.
type pluginGrade struct {
	inner   grade.Grade
	source  string
	version string
}

func newPluginFactory(file DefinitionFile) grade.Factory {
	def := file.Definition
	spec := def.Spec()
	return func(cfg grade.Config) (grade.Grade, error) {
		inner, err := grade.NewLinear(spec, cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin %s (%s): %w", def.ID, file.Path, err)
		}
		return &pluginGrade{inner: inner, source: file.Path, version: def.Version}, nil
	}
}

func (g *pluginGrade) Info() grade.Info {
	info := g.inner.Info()
	if info.Description == "" {
		info.Description = fmt.Sprintf("plugin grade %s", info.Name)
	}
	info.Description = fmt.Sprintf("%s [%s v%s]", info.Description, g.source, g.version)
	return info
}

func (g *pluginGrade) Render(c *composite.Composite) (*raster.Raster, error) {
	out, err := g.inner.Render(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.source, err)
	}
	return out, nil
}
