// Package hostconfig answers configuration property lookups made by module
// functions through ctx.resolve_configuration_property.
//
// Properties come from the service's own configuration document, overlaid by
// environment variables and finally by values set in code (command-line
// flags). Later layers win:
//
//  1. Configuration file (YAML, CloudFormation tags allowed)
//  2. Environment: SKYVARS_HOST_provider__region=eu-west-1 sets provider.region
//  3. Set / LoadMap
package hostconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/albertocavalcante/skyvars/internal/varsource"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SKYVARS_HOST_"

// delim separates the segments of a property path.
const delim = "."

// Config is a layered host configuration. It implements
// varsource.PropertyResolver.
type Config struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

var _ varsource.PropertyResolver = (*Config)(nil)

// Option configures a Config.
type Option func(*Config)

// WithEnvPrefix sets the environment variable prefix. An empty prefix
// disables the environment layer.
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}

// WithFile sets the configuration document to load.
func WithFile(path string) Option {
	return func(c *Config) {
		c.filePath = path
	}
}

// New creates an empty host configuration.
func New(opts ...Option) *Config {
	c := &Config{
		k:         koanf.New(delim),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load loads the configuration file (if any) and then the environment.
func (c *Config) Load() error {
	if c.filePath != "" {
		if err := c.LoadFile(c.filePath); err != nil {
			return err
		}
	}
	if c.envPrefix != "" {
		if err := c.LoadEnv(); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile merges a YAML configuration document.
func (c *Config) LoadFile(path string) error {
	if err := c.k.Load(file.Provider(path), Parser()); err != nil {
		return fmt.Errorf("load host config %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges environment variables carrying the prefix. The prefix is
// stripped and "__" separates path segments; case is preserved because
// property names are case sensitive.
func (c *Config) LoadEnv() error {
	prefix := c.envPrefix
	transform := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		return strings.ReplaceAll(s, "__", delim)
	}
	if err := c.k.Load(env.Provider(prefix, delim, transform), nil); err != nil {
		return fmt.Errorf("load host env: %w", err)
	}
	return nil
}

// LoadMap merges a nested map.
func (c *Config) LoadMap(data map[string]any) error {
	if err := c.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load host map: %w", err)
	}
	return nil
}

// Set sets a single property. key is a dotted path.
func (c *Config) Set(key string, value any) error {
	return c.k.Set(key, value)
}

// Get returns the property at the dotted key, or nil.
func (c *Config) Get(key string) any {
	return c.k.Get(key)
}

// Marshal renders the merged configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return c.k.Marshal(Parser())
}

// ResolveConfigurationProperty returns the property at path. Values that
// still hold an unresolved ${...} variable reference are reported as a
// *varsource.MissingDependencyError so the caller can retry once the
// reference has been resolved.
func (c *Config) ResolveConfigurationProperty(_ context.Context, path []string) (any, error) {
	v := c.k.Get(strings.Join(path, delim))
	if hasVariable(v) {
		return nil, &varsource.MissingDependencyError{Path: path}
	}
	return v, nil
}

// hasVariable reports whether v or anything nested in it is a string with a
// variable reference.
func hasVariable(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.Contains(x, "${")
	case map[string]any:
		for _, item := range x {
			if hasVariable(item) {
				return true
			}
		}
	case []any:
		for _, item := range x {
			if hasVariable(item) {
				return true
			}
		}
	}
	return false
}
