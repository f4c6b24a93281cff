// Package modelcatalog loads pressure calculation models from YAML and
// installs them through the core service.
package modelcatalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"baboard/internal/core"
)

// Catalog is the document root of a model catalog file.
type Catalog struct {
	Models []ModelSpec `yaml:"models"`
}

// ModelSpec describes one model. Firefighter is an optional badge number the
// model is assigned to as a custom model.
type ModelSpec struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Slope       float64 `yaml:"slope"`
	Intercept   float64 `yaml:"intercept"`
	MinPressure int     `yaml:"min_pressure,omitempty"`
	MaxPressure int     `yaml:"max_pressure,omitempty"`
	Default     bool    `yaml:"default,omitempty"`
	Firefighter string  `yaml:"firefighter,omitempty"`
}

// Load decodes and validates a catalog.
func Load(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("decode model catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open model catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate checks names are present and unique, bounds are ordered and at
// most one model is marked default.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Models))
	defaults := 0
	for i, m := range c.Models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("model %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("model %q declared twice", name)
		}
		seen[name] = struct{}{}
		if m.MinPressure > m.MaxPressure && m.MaxPressure != 0 {
			return fmt.Errorf("model %q: min_pressure %d exceeds max_pressure %d", name, m.MinPressure, m.MaxPressure)
		}
		if m.Default {
			defaults++
			if m.Firefighter != "" {
				return fmt.Errorf("model %q: a default model cannot be assigned to a firefighter", name)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%d models marked default, expected at most one", defaults)
	}
	return nil
}

// Report summarises what Apply changed.
type Report struct {
	Created  []string
	Skipped  []string
	Assigned map[string]string
}

// Apply creates catalog models missing by name and assigns custom models to
// the named firefighters. A catalog default is only created as default when
// the store has none.
func Apply(ctx context.Context, svc *core.Service, c Catalog) (Report, error) {
	report := Report{Assigned: map[string]string{}}
	existing, err := svc.ListModels(ctx)
	if err != nil {
		return report, err
	}
	byName := make(map[string]core.Model, len(existing))
	hasDefault := false
	for _, m := range existing {
		byName[m.Name] = m
		hasDefault = hasDefault || m.IsDefault
	}
	firefighters, err := svc.ListFirefighters(ctx, false)
	if err != nil {
		return report, err
	}
	byBadge := make(map[string]core.Firefighter, len(firefighters))
	for _, ff := range firefighters {
		byBadge[ff.BadgeNumber] = ff
	}

	for _, ms := range c.Models {
		model, ok := byName[ms.Name]
		if ok {
			report.Skipped = append(report.Skipped, ms.Name)
		} else {
			candidate := core.Model{
				Name:        ms.Name,
				Description: ms.Description,
				Slope:       ms.Slope,
				Intercept:   ms.Intercept,
				MinPressure: ms.MinPressure,
				MaxPressure: ms.MaxPressure,
				IsDefault:   ms.Default && !hasDefault,
			}
			var ff core.Firefighter
			if ms.Firefighter != "" {
				if ff, ok = byBadge[ms.Firefighter]; !ok {
					return report, fmt.Errorf("model %q: unknown firefighter badge %q", ms.Name, ms.Firefighter)
				}
				candidate.FirefighterID = &ff.ID
			}
			model, _, err = svc.CreateModel(ctx, candidate)
			if err != nil {
				return report, fmt.Errorf("create model %q: %w", ms.Name, err)
			}
			hasDefault = hasDefault || model.IsDefault
			byName[model.Name] = model
			report.Created = append(report.Created, ms.Name)
		}
		if ms.Firefighter == "" {
			continue
		}
		ff, ok := byBadge[ms.Firefighter]
		if !ok {
			return report, fmt.Errorf("model %q: unknown firefighter badge %q", ms.Name, ms.Firefighter)
		}
		if ff.CustomModelID != nil && *ff.CustomModelID == model.ID {
			continue
		}
		modelID := model.ID
		if _, _, err := svc.AssignCustomModel(ctx, ff.ID, &modelID); err != nil {
			return report, fmt.Errorf("assign model %q to %s: %w", ms.Name, ms.Firefighter, err)
		}
		report.Assigned[ms.Firefighter] = ms.Name
	}
	return report, nil
}
