package api

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders replies for front ends that show HTML. Raw HTML in
// the source is dropped, which is goldmark's default.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderHTML converts a markdown reply to HTML. On failure it returns ""
// and the caller falls back to the plain text.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
