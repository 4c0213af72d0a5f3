package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Export formats understood by Export.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// ExportMarkdown renders a run as a markdown document.
func ExportMarkdown(run *Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Mode:** %s\n", run.Mode)
	fmt.Fprintf(&b, "- **Status:** %s\n", run.Status())
	fmt.Fprintf(&b, "- **Duration:** %dms\n", run.DurationMs)
	fmt.Fprintf(&b, "- **Created:** %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", run.Error)
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Output\n\n")
	fence := "```"
	for strings.Contains(run.Output, fence) {
		fence += "`"
	}
	out := run.Output
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	fmt.Fprintf(&b, "%s\n%s%s\n", fence, out, fence)

	return b.String()
}

// ExportJSON renders a run as indented JSON.
func ExportJSON(run *Run) ([]byte, error) {
	return json.MarshalIndent(run, "", "  ")
}

// ExportYAML renders a run as YAML.
func ExportYAML(run *Run) ([]byte, error) {
	return yaml.Marshal(run)
}

// Export renders run in the named format.
func Export(run *Run, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md", "":
		return []byte(ExportMarkdown(run)), nil
	case FormatJSON:
		return ExportJSON(run)
	case FormatYAML, "yml":
		return ExportYAML(run)
	default:
		return nil, fmt.Errorf("unknown export format %q (want markdown, json or yaml)", format)
	}
}
