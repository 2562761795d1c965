// Package catalog loads the voice catalog: operating mode, engine priority
// list, cloud-only roles and persona profiles.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
	"github.com/spiralogic/oraclevoice/internal/speech/router"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

// EngineSpec declares one engine in priority order.
type EngineSpec struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Mode        string            `yaml:"mode"`
	URL         string            `yaml:"url"`
	Voice       string            `yaml:"voice"`
	Model       string            `yaml:"model"`
	StripMarkup *bool             `yaml:"strip_markup"`
	Options     map[string]string `yaml:"options"`
}

// Config flattens the engine entry into a registry factory config. Values in base
// (typically secrets from the environment) are overridden by the entry.
func (s EngineSpec) Config(base map[string]string) map[string]string {
	cfg := maps.Clone(base)
	if cfg == nil {
		cfg = make(map[string]string)
	}
	maps.Copy(cfg, s.Options)
	set := func(k, v string) {
		if v != "" {
			cfg[k] = v
		}
	}
	set("name", s.Name)
	set("mode", s.Mode)
	set("url", s.URL)
	set("voice", s.Voice)
	set("model", s.Model)
	if s.StripMarkup != nil {
		cfg["strip_markup"] = strconv.FormatBool(*s.StripMarkup)
	}
	return cfg
}

// Catalog is the parsed voices file.
type Catalog struct {
	Mode           string          `yaml:"mode"`
	DefaultRole    string          `yaml:"default_role"`
	CloudOnlyRoles []string        `yaml:"cloud_only_roles"`
	Engines        []EngineSpec    `yaml:"engines"`
	Profiles       []style.Profile `yaml:"profiles"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog for structural errors.
func (c *Catalog) Validate() error {
	var errs []error
	if _, err := router.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if len(c.Engines) == 0 {
		errs = append(errs, errors.New("at least one engine is required"))
	}
	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("engine %d: name is required", i))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("engine %q defined twice", e.Name))
		}
		seen[e.Name] = true
		if e.Kind == "" {
			errs = append(errs, fmt.Errorf("engine %q: kind is required", e.Name))
		} else if !registry.Engines.Has(e.Kind) {
			errs = append(errs, fmt.Errorf("engine %q: unknown kind %q (registered: %v)", e.Name, e.Kind, registry.Engines.List()))
		}
		if _, err := engine.ParseMode(e.Mode); err != nil {
			errs = append(errs, fmt.Errorf("engine %q: %w", e.Name, err))
		}
	}
	if _, err := style.NewResolver(c.Profiles, c.DefaultRole); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RouterMode returns the validated operating mode.
func (c *Catalog) RouterMode() router.Mode {
	m, _ := router.ParseMode(c.Mode)
	return m
}

// BuildEngines instantiates every engine in priority order. Engines created
// before a failure are closed.
func (c *Catalog) BuildEngines(secrets map[string]string) ([]engine.Engine, error) {
	engines := make([]engine.Engine, 0, len(c.Engines))
	for _, entry := range c.Engines {
		e, err := registry.Engines.Create(entry.Kind, entry.Config(secrets))
		if err != nil {
			for _, built := range engines {
				_ = built.Close()
			}
			return nil, fmt.Errorf("engine %q: %w", entry.Name, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}
