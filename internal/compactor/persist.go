package compactor

import (
	"fmt"
	"strings"
	"time"

	"ba-agent-core/pkg/types"
)

// renderFlushBlock renders one flush as a "## Memory Flush (HH:MM:SS)"
// Markdown block, one bullet per record.
func renderFlushBlock(now time.Time, records []types.MemoryRecord, fileRefs []types.FileRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Memory Flush (%s)\n\n", now.Format("15:04:05"))
	for _, rec := range records {
		b.WriteString("- ")
		b.WriteString(rec.Render())
		b.WriteString("\n")
	}
	if len(fileRefs) > 0 {
		b.WriteString("\nArtifacts:\n")
		for _, ref := range fileRefs {
			b.WriteString("- ")
			b.WriteString(ref.String())
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

func dailyFlushFilename(now time.Time) string {
	return now.Format("2006-01-02") + ".md"
}
