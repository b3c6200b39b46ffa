package toolconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadTOMLConfig loads a configuration from a TOML file.
func LoadTOMLConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML config %s: %w", path, err)
	}
	// Tables nested under options are free-form.
	for _, key := range md.Undecoded() {
		if key[0] != "options" {
			return nil, fmt.Errorf("parsing TOML config %s: unknown key %q", path, key.String())
		}
	}

	return cfg, nil
}
