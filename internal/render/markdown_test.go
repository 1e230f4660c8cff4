package render

import (
	"strings"
	"testing"
)

func TestMarkdownRendersEmphasis(t *testing.T) {
	out, err := Markdown("a *tall* monument")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if !strings.Contains(out, "<em>tall</em>") {
		t.Fatalf("expected emphasis in output, got %q", out)
	}
}

func TestMarkdownEscapesRawHTML(t *testing.T) {
	out, err := Markdown(`<script>alert("x")</script>`)
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html must be escaped, got %q", out)
	}
}

func TestMarkdownEmptyInput(t *testing.T) {
	out, err := Markdown("")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty output for empty input, got %q", out)
	}
}

func TestMarkdownLinkifiesURLs(t *testing.T) {
	out, err := Markdown("see https://example.org/model")
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}
	if !strings.Contains(out, `<a href="https://example.org/model"`) {
		t.Fatalf("expected autolinked url, got %q", out)
	}
}
