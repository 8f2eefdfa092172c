// internal/docker/options.go
//
// This layer adapts a Plan into concrete BuildOptions: the local (load)
// builds that precede publishing and the single publish build that pushes
// both tags. Cache flags are keyed by variant.

package docker

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"imgpub/internal/variant"
)

// Cache backends for buildx --cache-from/--cache-to.
const (
	CacheGHA      = "gha"
	CacheLocal    = "local"
	CacheRegistry = "registry"
	CacheNone     = "none"
)

// Cache selects where build layers are cached between runs.
type Cache struct {
	Backend string // gha | local | registry | none
	Dir     string // local backend root
}

// ParseCacheBackend validates a cache backend name.
func ParseCacheBackend(s string) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(s)); b {
	case CacheGHA, CacheLocal, CacheRegistry, CacheNone:
		return b, nil
	case "":
		return CacheNone, nil
	default:
		return "", fmt.Errorf("invalid cache backend: %q. Must be one of: gha, local, registry, none", s)
	}
}

// cacheSpecs returns the cache-from/cache-to specs for plan. The published
// latest ref is always a cache-from source so a cold cache still reuses layers
// from the registry.
func (c Cache) cacheSpecs(p Plan, image string) (from, to []string) {
	id := p.Variant.ID()
	switch c.Backend {
	case CacheGHA:
		from = append(from, "type=gha,scope="+id)
		to = append(to, "type=gha,mode=max,scope="+id)
	case CacheLocal:
		dir := path.Join(strings.TrimRight(c.Dir, "/"), id)
		from = append(from, "type=local,src="+dir)
		to = append(to, "type=local,dest="+dir+",mode=max")
	case CacheRegistry:
		ref := fmt.Sprintf("%s:%s-buildcache", image, id)
		from = append(from, "type=registry,ref="+ref)
		to = append(to, "type=registry,ref="+ref+",mode=max")
	}
	from = append(from, "type=registry,ref="+p.LatestRef)
	return from, to
}

// Options carries the run-wide knobs shared by every build.
type Options struct {
	Image   string // "<ns>/<repo>", used for registry cache refs
	Cache   Cache
	Pull    bool
	NoCache bool
}

func (o Options) base(p Plan) *BuildOptions {
	v := p.Variant
	from, to := o.Cache.cacheSpecs(p, o.Image)
	if o.NoCache {
		from = nil
	}
	return &BuildOptions{
		Dockerfile:  v.Dockerfile,
		ContextPath: v.Context,
		BuildArgs:   sortedArgs(v.BuildArgs),
		CacheFrom:   from,
		CacheTo:     to,
		Pull:        o.Pull,
		NoCache:     o.NoCache,
	}
}

// LocalBuilds returns the pre-publish builds: one loaded image for a
// single-arch variant, one per arch (in catalog order) for multi-arch.
func (o Options) LocalBuilds(p Plan) []*BuildOptions {
	out := make([]*BuildOptions, 0, len(p.Variant.Arches))
	for _, a := range p.Variant.Arches {
		b := o.base(p)
		b.Platforms = []string{variant.Platform(a)}
		b.FullRefs = []string{p.LocalRef(a)}
		b.Load = true
		out = append(out, b)
	}
	return out
}

// PublishBuild returns the build that pushes latest and dated tags together
// (one manifest list across all arches) with the OCI labels attached.
func (o Options) PublishBuild(p Plan) *BuildOptions {
	b := o.base(p)
	b.Platforms = p.Variant.Platforms()
	b.FullRefs = p.PublishRefs()
	b.Labels = p.Labels
	b.Push = true
	// inline cache metadata makes the pushed latest a usable cache-from source
	b.CacheTo = append(b.CacheTo, "type=inline")
	return b
}

func sortedArgs(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, m[k]})
	}
	return out
}
