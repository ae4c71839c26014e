package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// MarkdownToHTML converts generated markdown content to HTML. It covers the
// constructs the doc generator emits (headings, lists, fenced code,
// blockquotes, emphasis, links); anything else passes through as escaped
// paragraphs.
func MarkdownToHTML(source string) string {
	var out strings.Builder
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")

	var paragraph []string
	var listItems []string
	listOrdered := false
	inCode := false
	var codeLines []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		text := strings.Join(paragraph, " ")
		out.WriteString("<p>" + renderInline(text) + "</p>\n")
		paragraph = nil
	}
	flushList := func() {
		if len(listItems) == 0 {
			return
		}
		tag := "ul"
		if listOrdered {
			tag = "ol"
		}
		out.WriteString("<" + tag + ">\n")
		for _, item := range listItems {
			out.WriteString("<li>" + renderInline(item) + "</li>\n")
		}
		out.WriteString("</" + tag + ">\n")
		listItems = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inCode {
			if strings.HasPrefix(trimmed, "```") {
				out.WriteString("<pre><code>" + html.EscapeString(strings.Join(codeLines, "\n")) + "</code></pre>\n")
				codeLines = nil
				inCode = false
				continue
			}
			codeLines = append(codeLines, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "```"):
			flushParagraph()
			flushList()
			inCode = true
		case trimmed == "":
			flushParagraph()
			flushList()
		case strings.HasPrefix(trimmed, "#"):
			flushParagraph()
			flushList()
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' && level < 6 {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			out.WriteString(fmt.Sprintf("<h%d>%s</h%d>\n", level, renderInline(text), level))
		case strings.HasPrefix(trimmed, "> "):
			flushParagraph()
			flushList()
			out.WriteString("<blockquote><p>" + renderInline(strings.TrimPrefix(trimmed, "> ")) + "</p></blockquote>\n")
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushParagraph()
			if len(listItems) > 0 && listOrdered {
				flushList()
			}
			listOrdered = false
			listItems = append(listItems, trimmed[2:])
		case orderedItemPattern.MatchString(trimmed):
			flushParagraph()
			if len(listItems) > 0 && !listOrdered {
				flushList()
			}
			listOrdered = true
			listItems = append(listItems, orderedItemPattern.ReplaceAllString(trimmed, ""))
		case trimmed == "---" || trimmed == "***":
			flushParagraph()
			flushList()
			out.WriteString("<hr>\n")
		default:
			flushList()
			paragraph = append(paragraph, trimmed)
		}
	}
	if inCode {
		out.WriteString("<pre><code>" + html.EscapeString(strings.Join(codeLines, "\n")) + "</code></pre>\n")
	}
	flushParagraph()
	flushList()
	return out.String()
}

var (
	orderedItemPattern = regexp.MustCompile(`^\d+\.\s+`)
	boldPattern        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern      = regexp.MustCompile(`\*([^*]+)\*`)
	codePattern        = regexp.MustCompile("`([^`]+)`")
	linkPattern        = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

func renderInline(text string) string {
	escaped := html.EscapeString(text)
	escaped = codePattern.ReplaceAllString(escaped, "<code>$1</code>")
	escaped = boldPattern.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicPattern.ReplaceAllString(escaped, "<em>$1</em>")
	escaped = linkPattern.ReplaceAllString(escaped, `<a href="$2">$1</a>`)
	return escaped
}
