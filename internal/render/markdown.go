// Package render converts user-submitted markdown (model descriptions,
// comments, profile text) to HTML once, at write time. The rendered form is
// stored next to the raw text so read paths never touch the renderer.
package render

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var engine = goldmark.New(
	goldmark.WithExtensions(
		extension.Linkify,
		extension.Strikethrough,
	),
	goldmark.WithRendererOptions(
		// Raw HTML in user input stays escaped; only links get rel=nofollow.
		html.WithHardWraps(),
	),
)

// Markdown renders the input to HTML. Raw HTML in the source is escaped, so
// the output is safe to embed without a separate sanitizer pass.
func Markdown(source string) (string, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := engine.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
