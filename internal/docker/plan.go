// internal/docker/plan.go
//
// The planner turns a variant + the run's version tag into a Plan: every
// image reference the variant may touch plus the labels attached on publish.
//
// Tag layout (bit-for-bit, other tooling pins on it):
//   - <ns>/<repo>:<purpose>-<variant>-latest
//   - <ns>/<repo>:<purpose>-<variant>-<YYYYMMDD>-<sha>
//   - <ns>/<repo>:<purpose>-<variant>-<arch>-test   (multi-arch, local only)

package docker

import (
	"fmt"
	"strings"
	"time"

	"imgpub/internal/variant"
	"imgpub/internal/version"
)

// OCI label keys attached to every published image.
const (
	LabelSource   = "org.opencontainers.image.source"
	LabelRevision = "org.opencontainers.image.revision"
	LabelCreated  = "org.opencontainers.image.created"
	LabelVersion  = "org.opencontainers.image.version"
)

// LabelMeta carries the run values that end up in labels.
type LabelMeta struct {
	SourceURL string
	Revision  string // full commit id
	Created   time.Time
}

// Plan is the output of the planner for one variant.
type Plan struct {
	Variant   variant.Variant
	Version   version.Tag
	LatestRef string
	DatedRef  string
	TestRefs  map[string]string // arch -> local-only test ref (multi-arch)
	Labels    [][2]string
}

// PublishRefs are the two tags one publish pushes together.
func (p Plan) PublishRefs() []string {
	return []string{p.LatestRef, p.DatedRef}
}

// LocalRef is the locally loaded image for arch: the test tag in multi-arch
// mode, the dated tag otherwise.
func (p Plan) LocalRef(arch string) string {
	if ref, ok := p.TestRefs[arch]; ok {
		return ref
	}
	return p.DatedRef
}

// PlanVariant builds the Plan for v published under image ("<ns>/<repo>").
func PlanVariant(image string, v variant.Variant, tag version.Tag, meta LabelMeta) (Plan, error) {
	image = strings.TrimRight(strings.TrimSpace(image), "/")
	if image == "" {
		return Plan{}, fmt.Errorf("image base is empty")
	}
	if tag.IsZero() {
		return Plan{}, fmt.Errorf("version tag is not computed")
	}

	ref := func(qualifier string) (string, error) {
		t := fmt.Sprintf("%s-%s", v.ID(), qualifier)
		if !validateTag(t) {
			return "", fmt.Errorf("variant %s: invalid tag %q", v.Name, t)
		}
		return fmt.Sprintf("%s:%s", image, t), nil
	}

	p := Plan{Variant: v, Version: tag}
	var err error
	if p.LatestRef, err = ref("latest"); err != nil {
		return Plan{}, err
	}
	if p.DatedRef, err = ref(tag.String()); err != nil {
		return Plan{}, err
	}
	if v.MultiArch() {
		p.TestRefs = make(map[string]string, len(v.Arches))
		for _, a := range v.Arches {
			if p.TestRefs[a], err = ref(a + "-test"); err != nil {
				return Plan{}, err
			}
		}
	}

	created := meta.Created
	if created.IsZero() {
		created = time.Now()
	}
	p.Labels = [][2]string{
		{LabelSource, meta.SourceURL},
		{LabelRevision, meta.Revision},
		{LabelCreated, created.UTC().Format(time.RFC3339)},
		{LabelVersion, tag.String()},
	}
	return p, nil
}
