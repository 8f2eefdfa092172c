// internal/docker/types.go
package docker

// BuildOptions describes one `docker buildx build` invocation.
type BuildOptions struct {
	Dockerfile  string      // default: "Dockerfile"
	ContextPath string      // default: "."
	BuildArgs   [][2]string // KEY,VALUE (deterministic)
	Labels      [][2]string // optional

	FullRefs  []string // e.g. ["ns/repo:cbdb-test-rocky9-latest", "ns/repo:cbdb-test-rocky9-20240115-abc1234"]
	Platforms []string // e.g. ["linux/amd64","linux/arm64"]

	CacheFrom []string // --cache-from specs
	CacheTo   []string // --cache-to specs

	Target  string // optional multi-stage target
	Pull    bool   // --pull
	NoCache bool   // --no-cache
	Load    bool   // load the result into the local image store
	Push    bool   // push the result (and a manifest list for several platforms)
}

// Credentials authenticate against the registry before any push.
type Credentials struct {
	Username string
	Token    string
}
