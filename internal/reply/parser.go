// Package reply extracts the WRAP_UP and INTENT directives the assistant
// embeds in its replies and renders the remaining text for display.
//
// The grammar is deliberately narrow: it is a contract with the assistant's
// prompt, not a general markup language.
//
//	WRAP_UP: <text up to end of line or the next INTENT: marker>
//	INTENT: <word> | "<word>" | '<word>'
//
// Content may start on the line after WRAP_UP:. A reply without an INTENT
// marker is a wrap.
package reply

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	wrapUpPattern = regexp.MustCompile(`(?im)WRAP_UP:[ \t]*(?:\r?\n[ \t]*)?(.*?)[ \t]*(?:INTENT:|$)`)
	intentPattern = regexp.MustCompile(`(?i)INTENT:\s*["']?(\w+)["']?`)
)

// Parsed is the structured form of one assistant reply.
type Parsed struct {
	DisplayText string
	WrapUp      *string
	Intent      *domain.Intent
	// RawIntent is the intent word as written, kept for logging only.
	RawIntent string
}

// Parse splits raw assistant text into display text and directives.
// Each marker is matched independently; the first occurrence wins.
func Parse(raw string) Parsed {
	var p Parsed
	display := raw

	if loc := wrapUpPattern.FindStringSubmatchIndex(display); loc != nil {
		content := strings.TrimSpace(display[loc[2]:loc[3]])
		if content != "" {
			p.WrapUp = &content
		}
		// Cut the marker and its content but leave a following INTENT marker.
		display = display[:loc[0]] + display[loc[3]:]
	}

	if m := intentPattern.FindStringSubmatchIndex(display); m != nil {
		p.RawIntent = strings.ToLower(display[m[2]:m[3]])
		if intent, ok := domain.ParseIntent(p.RawIntent); ok {
			p.Intent = &intent
		}
		display = display[:m[0]] + display[m[1]:]
	} else {
		intent := domain.IntentWrap
		p.Intent = &intent
	}

	display = strings.TrimSpace(display)
	display = strings.Trim(display, `"`)
	p.DisplayText = strings.TrimSpace(display)
	return p
}

// Renderer turns display text into HTML for the chat client. Bare URLs
// become links; raw HTML from the assistant is not passed through.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with linkification and hard line breaks.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// HTML renders text, falling back to an empty string on failure.
func (r *Renderer) HTML(text string) string {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		slog.Warn("Failed to render reply markdown", "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}
