// Package variant holds the closed set of build targets a run iterates over.
//
// A catalog is loaded once per run (YAML or TOML, or one of the embedded
// presets) and is read-only afterwards; every variant carries its own source
// path prefix, tag purpose and architecture set so nothing downstream needs to
// dispatch on variant names.
package variant

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Smoke lists checks run inside a locally loaded image before publishing.
type Smoke struct {
	PackageManager string   `yaml:"package_manager" toml:"package_manager"` // rpm | dpkg
	Packages       []string `yaml:"packages" toml:"packages"`
	Commands       []string `yaml:"commands" toml:"commands"`
}

// Empty reports whether there is nothing to check.
func (s Smoke) Empty() bool {
	return len(s.Packages) == 0 && len(s.Commands) == 0
}

// Variant is one build target.
type Variant struct {
	Name       string            `yaml:"name" toml:"name"`
	Purpose    string            `yaml:"purpose" toml:"purpose"`
	Path       string            `yaml:"path" toml:"path"`
	Dockerfile string            `yaml:"dockerfile" toml:"dockerfile"`
	Context    string            `yaml:"context" toml:"context"`
	Arches     []string          `yaml:"arches" toml:"arches"`
	BuildArgs  map[string]string `yaml:"build_args" toml:"build_args"`
	Smoke      Smoke             `yaml:"smoke" toml:"smoke"`
}

// ID is the "<purpose>-<name>" prefix shared by all of the variant's tags.
func (v Variant) ID() string {
	return v.Purpose + "-" + v.Name
}

// MultiArch reports whether the variant publishes a manifest list.
func (v Variant) MultiArch() bool {
	return len(v.Arches) > 1
}

// Platforms returns the buildx platform strings for the variant's arches.
func (v Variant) Platforms() []string {
	out := make([]string, len(v.Arches))
	for i, a := range v.Arches {
		out[i] = Platform(a)
	}
	return out
}

// Platform maps an arch to its buildx platform.
func Platform(arch string) string {
	return "linux/" + arch
}

// Registry names where images are published.
type Registry struct {
	Host       string `yaml:"host" toml:"host"` // empty means Docker Hub
	Namespace  string `yaml:"namespace" toml:"namespace"`
	Repository string `yaml:"repository" toml:"repository"`
}

// Image is "<namespace>/<repo>", prefixed with the host when one is set.
func (r Registry) Image() string {
	base := r.Namespace + "/" + r.Repository
	if h := strings.TrimRight(strings.TrimSpace(r.Host), "/"); h != "" {
		return h + "/" + base
	}
	return base
}

// Catalog is a registry plus its variants, in declaration order.
type Catalog struct {
	Registry Registry  `yaml:"registry" toml:"registry"`
	Variants []Variant `yaml:"variants" toml:"variants"`
}

// Names returns the variant names in order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.Variants))
	for i, v := range c.Variants {
		out[i] = v.Name
	}
	return out
}

// Select narrows the catalog to the named variants, keeping catalog order.
// An empty selection keeps everything.
func (c *Catalog) Select(names []string) (*Catalog, error) {
	if len(names) == 0 {
		return c, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	out := &Catalog{Registry: c.Registry}
	for _, v := range c.Variants {
		if want[v.Name] {
			out.Variants = append(out.Variants, v)
			delete(want, v.Name)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for n := range want {
			missing = append(missing, n)
		}
		return nil, fmt.Errorf("unknown variant(s) %v (known: %v)", missing, c.Names())
	}
	return out, nil
}

var (
	nameAllowed = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	archAllowed = regexp.MustCompile(`^[a-z0-9]+$`)
)

// applyDefaults fills dockerfile/context/arches from the path.
func (v *Variant) applyDefaults() {
	v.Path = CleanPath(v.Path)
	if strings.TrimSpace(v.Context) == "" {
		v.Context = v.Path
	}
	if strings.TrimSpace(v.Dockerfile) == "" {
		v.Dockerfile = path.Join(v.Context, "Dockerfile")
	}
	if len(v.Arches) == 0 {
		v.Arches = []string{"amd64"}
	}
	if v.Smoke.PackageManager == "" && len(v.Smoke.Packages) > 0 {
		v.Smoke.PackageManager = "rpm"
	}
}

// Validate checks the catalog is complete and every tag it can produce is legal.
func (c *Catalog) Validate() error {
	if strings.TrimSpace(c.Registry.Namespace) == "" || strings.TrimSpace(c.Registry.Repository) == "" {
		return fmt.Errorf("registry namespace and repository are required")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("catalog has no variants")
	}
	seen := make(map[string]bool, len(c.Variants))
	for _, v := range c.Variants {
		if !nameAllowed.MatchString(v.Name) {
			return fmt.Errorf("variant name %q must be lowercase alphanumerics, '.', '_' or '-'", v.Name)
		}
		if !nameAllowed.MatchString(v.Purpose) {
			return fmt.Errorf("variant %s: purpose %q must be lowercase alphanumerics, '.', '_' or '-'", v.Name, v.Purpose)
		}
		if seen[v.ID()] {
			return fmt.Errorf("duplicate variant %s", v.ID())
		}
		seen[v.ID()] = true
		if v.Path == "" || v.Path == "." {
			return fmt.Errorf("variant %s: path is required", v.Name)
		}
		archSeen := make(map[string]bool, len(v.Arches))
		for _, a := range v.Arches {
			if !archAllowed.MatchString(a) {
				return fmt.Errorf("variant %s: invalid arch %q", v.Name, a)
			}
			if archSeen[a] {
				return fmt.Errorf("variant %s: duplicate arch %q", v.Name, a)
			}
			archSeen[a] = true
		}
		switch v.Smoke.PackageManager {
		case "", "rpm", "dpkg":
		default:
			return fmt.Errorf("variant %s: unsupported package manager %q (rpm|dpkg)", v.Name, v.Smoke.PackageManager)
		}
	}
	return nil
}

// CleanPath normalises a repository-relative path to slash form without a
// leading "./" or "/".
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "."
	}
	return p
}
