package export

import (
	"strings"
	"testing"
)

func TestMarkdownToHTMLHeadings(t *testing.T) {
	got := MarkdownToHTML("# Overview\n\n## Scope\n")
	if !strings.Contains(got, "<h1>Overview</h1>") {
		t.Errorf("missing h1, got %q", got)
	}
	if !strings.Contains(got, "<h2>Scope</h2>") {
		t.Errorf("missing h2, got %q", got)
	}
}

func TestMarkdownToHTMLParagraphJoinsLines(t *testing.T) {
	got := MarkdownToHTML("first line\nsecond line\n\nnext paragraph\n")
	if !strings.Contains(got, "<p>first line second line</p>") {
		t.Errorf("lines not joined into one paragraph, got %q", got)
	}
	if !strings.Contains(got, "<p>next paragraph</p>") {
		t.Errorf("missing second paragraph, got %q", got)
	}
}

func TestMarkdownToHTMLLists(t *testing.T) {
	got := MarkdownToHTML("- alpha\n- beta\n\n1. one\n2. two\n")
	if !strings.Contains(got, "<ul>\n<li>alpha</li>\n<li>beta</li>\n</ul>") {
		t.Errorf("unordered list not rendered, got %q", got)
	}
	if !strings.Contains(got, "<ol>\n<li>one</li>\n<li>two</li>\n</ol>") {
		t.Errorf("ordered list not rendered, got %q", got)
	}
}

func TestMarkdownToHTMLFencedCodeEscapes(t *testing.T) {
	got := MarkdownToHTML("```\nif a < b {\n}\n```\n")
	if !strings.Contains(got, "<pre><code>if a &lt; b {\n}</code></pre>") {
		t.Errorf("code block not escaped, got %q", got)
	}
}

func TestMarkdownToHTMLInline(t *testing.T) {
	got := MarkdownToHTML("use **bold** and *italic* and `code` and [docs](https://example.com)\n")
	for _, want := range []string{
		"<strong>bold</strong>",
		"<em>italic</em>",
		"<code>code</code>",
		`<a href="https://example.com">docs</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestMarkdownToHTMLEscapesHTML(t *testing.T) {
	got := MarkdownToHTML("<script>alert(1)</script>\n")
	if strings.Contains(got, "<script>") {
		t.Errorf("raw html not escaped: %q", got)
	}
}

func TestMarkdownToHTMLBlockquoteAndRule(t *testing.T) {
	got := MarkdownToHTML("> a note\n\n---\n")
	if !strings.Contains(got, "<blockquote><p>a note</p></blockquote>") {
		t.Errorf("missing blockquote, got %q", got)
	}
	if !strings.Contains(got, "<hr>") {
		t.Errorf("missing hr, got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Payment Service":   "Payment-Service",
		"  api / v2  ":      "api-v2",
		"???":               "documentation",
		"already-clean":     "already-clean",
		"Trailing symbols!": "Trailing-symbols",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b<c>")
	if got != "a%20b%3Cc%3E" {
		t.Errorf("got %q", got)
	}
}
