// ABOUTME: Markdown-to-Telegram-HTML rendering and message splitting.
// ABOUTME: Renders with goldmark, then reduces the HTML to Telegram's allowed tag set.

package telegram

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
)

// telegramTags are the tags Telegram's HTML parse mode accepts.
var telegramTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"a":          true,
	"code":       true,
	"pre":        true,
	"blockquote": true,
	"tg-spoiler": true,
	"span":       true,
}

var newlineRuns = regexp.MustCompile(`\n{3,}`)

var hrefAttr = regexp.MustCompile(`href="([^"]*)"`)

// renderHTML converts markdown to HTML that Telegram will accept. If the
// markdown does not convert, the text is sent escaped as-is.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return html.EscapeString(markdown)
	}
	return sanitizeHTML(buf.String())
}

// sanitizeHTML reduces rendered HTML to Telegram's tag set: allowed tags
// are kept with their attributes stripped, headings become bold, block
// structure becomes newlines and bullets, and everything else keeps only
// its inner text.
func sanitizeHTML(input string) string {
	var out strings.Builder
	out.Grow(len(input))

	i := 0
	for i < len(input) {
		c := input[i]
		if c != '<' {
			out.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(input[i:], '>')
		if end < 0 {
			out.WriteString(input[i:])
			break
		}
		out.WriteString(replaceTag(input[i+1 : i+end]))
		i += end + 1
	}

	return strings.TrimSpace(newlineRuns.ReplaceAllString(out.String(), "\n\n"))
}

// replaceTag maps one raw tag body (the text between < and >) to its
// Telegram-safe replacement.
func replaceTag(raw string) string {
	body := strings.TrimSpace(strings.TrimSuffix(raw, "/"))
	closing := strings.HasPrefix(body, "/")
	if closing {
		body = body[1:]
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToLower(fields[0])

	if telegramTags[name] {
		if closing {
			return "</" + name + ">"
		}
		if name == "a" {
			if m := hrefAttr.FindStringSubmatch(raw); m != nil {
				return `<a href="` + m[1] + `">`
			}
			return ""
		}
		return "<" + name + ">"
	}

	switch name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		if closing {
			return "</b>\n"
		}
		return "<b>"
	case "p":
		if closing {
			return "\n\n"
		}
		return ""
	case "br":
		return "\n"
	case "li":
		if closing {
			return ""
		}
		return "• "
	default:
		return ""
	}
}

// splitMessage splits text into chunks of at most limit runes, preferring
// to break at the last newline inside the window.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		idx := len(text)
		n := 0
		for i := range text {
			if n == limit {
				idx = i
				break
			}
			n++
		}
		cut := strings.LastIndex(text[:idx], "\n")
		if cut <= 0 {
			cut = idx
		}
		chunk := strings.TrimRight(text[:cut], "\n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
