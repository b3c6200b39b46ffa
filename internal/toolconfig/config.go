// Package toolconfig loads skyvars tool configuration.
//
// Two formats are supported:
//   - vars.star: Starlark, a configure() function returning a dict
//   - skyvars.toml: declarative TOML
//
// Configuration files are discovered by walking up from the working directory
// to the git root. SKYVARS_CONFIG names a file explicitly. Relative paths in a
// configuration file are relative to the directory holding it.
package toolconfig

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/albertocavalcante/skyvars/internal/filekind"
	"github.com/albertocavalcante/skyvars/internal/fsguard"
)

// Config file names in priority order.
const (
	ConfigStar = "vars.star"
	ConfigTOML = "skyvars.toml"
)

// EnvConfig names a configuration file explicitly, skipping discovery.
const EnvConfig = "SKYVARS_CONFIG"

// ErrConflict is returned when one directory holds both configuration files.
var ErrConflict = errors.New("both vars.star and skyvars.toml exist; keep one")

// Config is the skyvars tool configuration.
type Config struct {
	// ServicePath is the service directory files are resolved against.
	ServicePath string `toml:"service_path"`

	// HostConfig is the service's own configuration document (YAML).
	// Its properties answer resolve_configuration_property lookups.
	HostConfig string `toml:"host_config"`

	// VariablesResolutionMode is written into the host configuration and
	// enables functions exported by Starlark modules when set.
	VariablesResolutionMode Mode `toml:"variables_resolution_mode"`

	// Timeout bounds one resolution, including module execution.
	Timeout Duration `toml:"timeout"`

	// Options are passed to module functions as ctx.options.
	Options map[string]any `toml:"options"`
}

// Mode is a variables resolution mode. Configuration files may spell it as a
// number (20210326) or a string.
type Mode string

// UnmarshalTOML implements toml.Unmarshaler.
func (m *Mode) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		*m = Mode(x)
	case int64:
		*m = Mode(strconv.FormatInt(x, 10))
	case bool:
		if x {
			*m = "true"
		} else {
			*m = ""
		}
	default:
		return fmt.Errorf("variables_resolution_mode must be a string or integer, got %T", v)
	}
	return nil
}

// Duration is a time.Duration spelled as a string in configuration files
// ("30s", "2m"). An empty string means no timeout.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration = 0
	if s := string(text); s != "" {
		if d.Duration, err = time.ParseDuration(s); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	if d.Duration == 0 {
		return nil, nil
	}
	return []byte(d.String()), nil
}

// DefaultConfig returns a Config with the service in the working directory.
func DefaultConfig() *Config {
	return &Config{
		ServicePath: ".",
	}
}

// LoadConfig loads the configuration file at path, TOML or Starlark by
// extension, and makes its relative paths absolute.
func LoadConfig(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch filekind.FromPath(path) {
	case filekind.KindTOML:
		cfg, err = LoadTOMLConfig(path)
	case filekind.KindModule:
		cfg, err = LoadStarlarkConfig(path, DefaultStarlarkTimeout)
	default:
		return nil, fmt.Errorf("%s: configuration must be a .toml, .star or .sky file", path)
	}
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// resolvePaths makes relative paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	if c.ServicePath != "" && !filepath.IsAbs(c.ServicePath) {
		c.ServicePath = filepath.Join(dir, c.ServicePath)
	}
	if c.HostConfig != "" && !filepath.IsAbs(c.HostConfig) {
		c.HostConfig = filepath.Join(dir, c.HostConfig)
	}
}

// DiscoverConfig finds and loads the tool configuration for startDir (the
// working directory when empty). SKYVARS_CONFIG wins when set; otherwise the
// nearest vars.star or skyvars.toml is used, looking no further up than the
// enclosing git repository.
//
// When there is no configuration file it returns DefaultConfig() and an
// empty path.
func DiscoverConfig(startDir string) (*Config, string, error) {
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		cfg, err := LoadConfig(envPath)
		if err != nil {
			return nil, "", fmt.Errorf("%s=%s: %w", EnvConfig, envPath, err)
		}
		return cfg, envPath, nil
	}

	start, err := filepath.Abs(startDir)
	if err != nil {
		return nil, "", err
	}

	stop := findGitRoot(start)
	for dir := range ancestors(start) {
		path, err := findConfigInDir(dir)
		if err != nil {
			return nil, "", err
		}
		if path != "" {
			cfg, err := LoadConfig(path)
			if err != nil {
				return nil, "", err
			}
			return cfg, path, nil
		}
		if dir == stop {
			break
		}
	}
	return DefaultConfig(), "", nil
}

// ancestors yields dir and each of its parents up to the filesystem root.
func ancestors(dir string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(dir) {
				return
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return
			}
			dir = parent
		}
	}
}

// findConfigInDir returns the config file in dir, or "" if there is none.
func findConfigInDir(dir string) (string, error) {
	var found []string
	for _, name := range []string{ConfigStar, ConfigTOML} {
		if fsguard.Exists(filepath.Join(dir, name)) {
			found = append(found, name)
		}
	}

	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return filepath.Join(dir, found[0]), nil
	default:
		return "", fmt.Errorf("%w: found %s in %s", ErrConflict, strings.Join(found, ", "), dir)
	}
}

// findGitRoot returns the nearest directory holding .git, or "".
func findGitRoot(start string) string {
	for dir := range ancestors(start) {
		if fsguard.Exists(filepath.Join(dir, ".git")) {
			return dir
		}
	}
	return ""
}

// Merge overlays other onto c: set fields replace c's, options are merged
// key by key.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.ServicePath != "" {
		c.ServicePath = other.ServicePath
	}
	if other.HostConfig != "" {
		c.HostConfig = other.HostConfig
	}
	if other.VariablesResolutionMode != "" {
		c.VariablesResolutionMode = other.VariablesResolutionMode
	}
	if other.Timeout.Duration != 0 {
		c.Timeout = other.Timeout
	}
	if len(other.Options) > 0 {
		if c.Options == nil {
			c.Options = make(map[string]any, len(other.Options))
		}
		for k, v := range other.Options {
			c.Options[k] = v
		}
	}
}
