package llm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	listMarkerPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)

	leadAckPattern    = regexp.MustCompile(`(?is)^\s*(?:sure|okay|ok|alright|all right|got it|absolutely|yes|yep|yeah|certainly|of course|right|well|hmm)(?:(?:\s*[\p{P}]+\s*)+|\s+$|$)`)
	leadFillerPattern = regexp.MustCompile(`(?is)^\s*(?:give me(?: just)? a (?:second|sec|moment)(?: while i think| to think)?|just a (?:second|sec|moment)|one (?:second|sec|moment)|hold on|hang on|let me think(?: for a (?:second|moment))?|(?:that'?s (?:a|an) )?(?:great|good|excellent) question)(?:(?:\s*[\p{P}]+\s*)+|\s+$|$)`)
)

// Sanitize removes markup, links, emoji and stock lead-ins so the reply can be
// read aloud.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")
	raw = listMarkerPattern.ReplaceAllString(raw, "")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case speakablePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(stripLeadPreamble(b.String()))
}

func speakablePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

func stripLeadFiller(raw string) string {
	out := raw
	for i := 0; i < 4; i++ {
		next := leadFillerPattern.ReplaceAllString(out, "")
		if next == out {
			return out
		}
		out = next
	}
	return out
}

// stripLeadPreamble drops filler openers. A bare acknowledgement is kept
// unless filler follows it, since "Yes." can be the whole answer.
func stripLeadPreamble(raw string) string {
	out := raw
	for i := 0; i < 4; i++ {
		next := stripLeadFiller(out)
		if m := leadAckPattern.FindStringIndex(next); len(m) == 2 && m[0] == 0 {
			rest := next[m[1]:]
			if stripped := stripLeadFiller(rest); stripped != rest {
				next = stripped
			}
		}
		if next == out {
			return out
		}
		out = next
	}
	return out
}
