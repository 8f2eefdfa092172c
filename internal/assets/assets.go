package assets

import (
	"embed"
	"fmt"
)

//go:embed summary.md.tmpl variants/*.yaml
var content embed.FS

// SummaryTemplate loads the embedded step-summary Markdown template.
func SummaryTemplate() string {
	data, err := content.ReadFile("summary.md.tmpl")
	if err != nil {
		// fail-safe: a minimal template so reports are never blank
		return fmt.Sprintf("## {{ .Variant }}: {{ .Status }}\n\n(error reading summary.md.tmpl: %v)\n", err)
	}
	return string(data)
}

// Presets lists the names of the embedded variant catalogs.
func Presets() []string {
	return []string{"test", "build"}
}

// Preset returns the embedded YAML catalog with the given name.
func Preset(name string) ([]byte, error) {
	data, err := content.ReadFile("variants/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown variant preset %q (known: %v)", name, Presets())
	}
	return data, nil
}
