package variant

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"imgpub/internal/assets"
)

// Load reads a catalog file. The format follows the extension: .toml is TOML,
// anything else is YAML.
func Load(file string) (*Catalog, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading variant catalog: %w", err)
	}
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		return ParseTOML(data)
	}
	return ParseYAML(data)
}

// LoadPreset parses one of the embedded catalogs ("test" or "build").
func LoadPreset(name string) (*Catalog, error) {
	data, err := assets.Preset(name)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes, defaults and validates a YAML catalog. Unknown keys are rejected.
func ParseYAML(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing variant catalog: %w", err)
	}
	return finish(&c)
}

// ParseTOML decodes, defaults and validates a TOML catalog. Unknown keys are rejected.
func ParseTOML(data []byte) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parsing variant catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing variant catalog: unknown keys %v", undecoded)
	}
	return finish(&c)
}

func finish(c *Catalog) (*Catalog, error) {
	for i := range c.Variants {
		c.Variants[i].applyDefaults()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
