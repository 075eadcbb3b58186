package markup

import (
	"io"
	"strings"
)

const (
	ansiReset     = "\x1b[0m"
	ansiBold      = "\x1b[1m"
	ansiDim       = "\x1b[2m"
	ansiItalic    = "\x1b[3m"
	ansiUnderline = "\x1b[4m"
	ansiStrike    = "\x1b[9m"
	ansiCyan      = "\x1b[36m"
	ansiBlue      = "\x1b[34m"
)

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) str(parts ...string) {
	for _, p := range parts {
		if ew.err != nil {
			return
		}
		_, ew.err = io.WriteString(ew.w, p)
	}
}

// WriteANSI renders els with terminal escape sequences.
func WriteANSI(w io.Writer, els []Element) error {
	ew := &errWriter{w: w}
	for _, e := range els {
		switch e.Kind {
		case Bold:
			ew.str(ansiBold, e.Content, ansiReset)
		case Italic:
			ew.str(ansiItalic, e.Content, ansiReset)
		case Underline:
			ew.str(ansiUnderline, e.Content, ansiReset)
		case Strikethrough:
			ew.str(ansiStrike, e.Content, ansiReset)
		case InlineCode:
			ew.str(ansiCyan, e.Content, ansiReset)
		case CodeBlock:
			ew.str("\n")
			if e.Language != "" {
				ew.str(ansiDim, e.Language, ansiReset, "\n")
			}
			for _, line := range strings.Split(e.Content, "\n") {
				ew.str(ansiCyan, "    ", line, ansiReset, "\n")
			}
		case Header:
			ew.str(ansiBold, strings.Repeat("#", HeaderLevel(e.Level)), " ", e.Content, ansiReset)
		case Blockquote, MultilineBlockquote:
			for i, line := range strings.Split(e.Content, "\n") {
				if i > 0 {
					ew.str("\n")
				}
				ew.str(ansiDim, "│ ", ansiReset, ansiItalic, line, ansiReset)
			}
		case ListItem:
			ew.str("• ", e.Content)
		case SubListItem:
			ew.str("  · ", e.Content)
		case MaskedLink:
			ew.str(ansiUnderline, ansiBlue, e.Content, ansiReset, " (", e.URL, ")")
		case URL:
			ew.str(ansiUnderline, ansiBlue, e.Content, ansiReset)
		case Subtext:
			ew.str(ansiDim, e.Content, ansiReset)
		default:
			ew.str(e.Content)
		}
	}
	return ew.err
}
