package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type markdownExtractor struct {
	md goldmark.Markdown
}

func (m markdownExtractor) Extract(data []byte) (*Result, error) {
	reader := text.NewReader(data)
	doc := m.md.Parser().Parse(reader)
	res := &Result{}
	var blocks []string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if h, ok := node.(*ast.Heading); ok && h.Level == 1 && res.Title == "" {
			res.Title = blockText(node, data)
		}
		if cb, ok := node.(*ast.FencedCodeBlock); ok {
			var sb strings.Builder
			for i := 0; i < cb.Lines().Len(); i++ {
				line := cb.Lines().At(i)
				sb.Write(line.Value(data))
			}
			blocks = append(blocks, sb.String())
			continue
		}
		if txt := blockText(node, data); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	res.Text = strings.Join(blocks, "\n\n")
	return res, nil
}

func blockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func init() {
	Register(markdownExtractor{md: goldmark.New()}, "text/markdown", "text/x-markdown")
}
