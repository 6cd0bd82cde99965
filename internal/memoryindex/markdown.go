package memoryindex

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// splitMemoryFlushBlocks parses a memory/*.md daily flush file with
// goldmark to find its "## Memory Flush (...)" headings, then splits the
// source at the start of each such heading line, so a later line-chunking
// pass never straddles two flush blocks. Text before the first heading
// stays with the first block, so the blocks always cover the whole source.
func splitMemoryFlushBlocks(source []byte) []string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var headingLines []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 {
			return ast.WalkContinue, nil
		}
		if !strings.HasPrefix(headingText(heading, source), "Memory Flush") {
			return ast.WalkContinue, nil
		}
		if seg := heading.Lines().At(0); seg.Start >= 0 {
			// the segment starts at the heading text; back up to its line start
			start := seg.Start
			for start > 0 && source[start-1] != '\n' {
				start--
			}
			headingLines = append(headingLines, start)
		}
		return ast.WalkSkipChildren, nil
	})

	if len(headingLines) == 0 {
		return []string{string(source)}
	}

	var blocks []string
	for i, start := range headingLines {
		if i == 0 {
			start = 0
		}
		end := len(source)
		if i+1 < len(headingLines) {
			end = headingLines[i+1]
		}
		blocks = append(blocks, string(source[start:end]))
	}
	return blocks
}

func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return b.String()
}
