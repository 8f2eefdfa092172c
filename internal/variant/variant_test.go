package variant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPresets(t *testing.T) {
	test, err := LoadPreset("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"rocky8", "rocky9"}, test.Names())
	for _, v := range test.Variants {
		assert.False(t, v.MultiArch(), v.Name)
		assert.Equal(t, "cbdb-test", v.Purpose)
		assert.Equal(t, v.Path+"/Dockerfile", v.Dockerfile)
	}
	assert.Equal(t, "apache/incubator-cloudberry", test.Registry.Image())

	build, err := LoadPreset("build")
	require.NoError(t, err)
	for _, v := range build.Variants {
		assert.True(t, v.MultiArch(), v.Name)
		assert.Equal(t, []string{"linux/amd64", "linux/arm64"}, v.Platforms())
	}

	_, err = LoadPreset("nope")
	require.Error(t, err)
}

func TestParseYAMLDefaults(t *testing.T) {
	c, err := ParseYAML([]byte(`
registry: {namespace: acme, repository: images, host: ghcr.io/}
variants:
  - name: ubuntu22.04
    purpose: ci
    path: ./docker/ubuntu/
    smoke:
      packages: [git]
`))
	require.NoError(t, err)
	v := c.Variants[0]
	assert.Equal(t, "docker/ubuntu", v.Path)
	assert.Equal(t, "docker/ubuntu", v.Context)
	assert.Equal(t, "docker/ubuntu/Dockerfile", v.Dockerfile)
	assert.Equal(t, []string{"amd64"}, v.Arches)
	assert.Equal(t, "rpm", v.Smoke.PackageManager)
	assert.Equal(t, "ci-ubuntu22.04", v.ID())
	assert.Equal(t, "ghcr.io/acme/images", c.Registry.Image())
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte(`
registry: {namespace: a, repository: b}
variants:
  - name: x
    purpose: p
    path: x
    archs: [amd64]
`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Catalog {
		c := &Catalog{
			Registry: Registry{Namespace: "a", Repository: "b"},
			Variants: []Variant{{Name: "rocky9", Purpose: "cbdb-test", Path: "p9"}},
		}
		for i := range c.Variants {
			c.Variants[i].applyDefaults()
		}
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Catalog)
	}{
		{"missing namespace", func(c *Catalog) { c.Registry.Namespace = "" }},
		{"no variants", func(c *Catalog) { c.Variants = nil }},
		{"uppercase name", func(c *Catalog) { c.Variants[0].Name = "Rocky9" }},
		{"bad purpose", func(c *Catalog) { c.Variants[0].Purpose = "cbdb test" }},
		{"duplicate", func(c *Catalog) { c.Variants = append(c.Variants, c.Variants[0]) }},
		{"empty path", func(c *Catalog) { c.Variants[0].Path = "" }},
		{"slash arch", func(c *Catalog) { c.Variants[0].Arches = []string{"arm/v7"} }},
		{"duplicate arch", func(c *Catalog) { c.Variants[0].Arches = []string{"amd64", "amd64"} }},
		{"package manager", func(c *Catalog) { c.Variants[0].Smoke.PackageManager = "apk" }},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "variants.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[registry]
namespace = "apache"
repository = "incubator-cloudberry"

[[variants]]
name = "rocky9"
purpose = "cbdb-build"
path = "images/docker/cbdb/build/rocky9"
arches = ["amd64", "arm64"]

[variants.build_args]
BASE = "rockylinux:9"
`), 0o600))

	c, err := Load(file)
	require.NoError(t, err)
	require.Len(t, c.Variants, 1)
	assert.True(t, c.Variants[0].MultiArch())
	assert.Equal(t, "rockylinux:9", c.Variants[0].BuildArgs["BASE"])

	require.NoError(t, os.WriteFile(file, []byte("[registry]\nnamespace = \"a\"\nrepository = \"b\"\nbogus = 1\n"), 0o600))
	_, err = Load(file)
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	c, err := LoadPreset("test")
	require.NoError(t, err)

	sel, err := c.Select([]string{"rocky9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rocky9"}, sel.Names())

	all, err := c.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all.Variants, 2)

	_, err = c.Select([]string{"rocky7"})
	require.Error(t, err)
}

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "a/b", CleanPath("./a/b/"))
	assert.Equal(t, "a/b", CleanPath("/a//b"))
	assert.Equal(t, "a/b", CleanPath(`a\b`))
	assert.Equal(t, "", CleanPath("  "))
	assert.Equal(t, ".", CleanPath("./"))
}
