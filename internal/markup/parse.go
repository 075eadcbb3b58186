package markup

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var codeBlockRe = regexp.MustCompile("```(\\w+)?\\n?([\\s\\S]*?)```")

type rule struct {
	re   *regexp.Regexp
	kind Kind
}

// Evaluation order matters: it breaks ties between matches starting at the
// same position. Line rules stop before "\r" so CRLF bodies parse like LF ones.
var inlineRules = []rule{
	{regexp.MustCompile(`(?m)^#{1,3}\s+([^\r\n]+)`), Header},
	{regexp.MustCompile(`(?m)^>\s*([^\r\n]+)`), Blockquote},
	{regexp.MustCompile(`(?m)^\*\s+([^\r\n]+)`), ListItem},
	{regexp.MustCompile(`(?m)^-\s+([^\r\n]+)`), SubListItem},
	{regexp.MustCompile(`(?m)^-#\s*([^\r\n]+)`), Subtext},
	{regexp.MustCompile("`([^`]+)`"), InlineCode},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), MaskedLink},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), Bold},
	{regexp.MustCompile(`__(.*?)__`), Underline},
	{regexp.MustCompile(`~~(.*?)~~`), Strikethrough},
	{regexp.MustCompile(`\*(.*?)\*`), Italic},
	{regexp.MustCompile(`_(.*?)_`), Italic},
	{regexp.MustCompile(`(https?://\S+)`), URL},
}

// Parse turns a message body into display elements. It never fails: text no
// rule recognises comes back as plain text.
func Parse(text string) []Element {
	var out []Element

	pos := 0
	for {
		start, end, ok := nextMultilineQuote(text, pos)
		if !ok {
			break
		}
		out = append(out, parseInline(text[pos:start])...)
		out = append(out, Element{Kind: MultilineBlockquote, Content: quoteContent(text[start:end])})
		pos = end
	}

	rest := text[pos:]
	for {
		loc := codeBlockRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		out = append(out, parseInline(rest[:loc[0]])...)
		el := Element{Kind: CodeBlock, Content: strings.TrimSpace(rest[loc[4]:loc[5]])}
		if loc[2] >= 0 {
			el.Language = rest[loc[2]:loc[3]]
		}
		out = append(out, el)
		rest = rest[loc[1]:]
	}

	return append(out, parseInline(rest)...)
}

// nextMultilineQuote finds a line starting with ">>>" at or after from. The
// quote runs to the first blank line (or the end of the text).
func nextMultilineQuote(s string, from int) (start, end int, ok bool) {
	for i := from; i+3 <= len(s); i++ {
		if i > 0 && s[i-1] != '\n' {
			continue
		}
		if !strings.HasPrefix(s[i:], ">>>") {
			continue
		}
		end = lineEnd(s, i)
		for end < len(s) && s[end] == '\n' && (end+1 == len(s) || !blankLineAt(s, end+1)) {
			end = lineEnd(s, end+1)
		}
		return i, end, true
	}
	return 0, 0, false
}

// blankLineAt reports whether the line starting at i is empty, "\r" included.
func blankLineAt(s string, i int) bool {
	if s[i] == '\r' {
		i++
	}
	return i == len(s) || s[i] == '\n'
}

func lineEnd(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j
	}
	return len(s)
}

func quoteContent(block string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		lines[i] = line
		if strings.HasPrefix(line, ">>>") {
			lines[i] = strings.TrimLeftFunc(line[3:], unicode.IsSpace)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type candidate struct {
	start, end int
	el         Element
}

func parseInline(text string) []Element {
	if text == "" {
		return nil
	}

	var cands []candidate
	for _, r := range inlineRules {
		for _, loc := range r.re.FindAllStringSubmatchIndex(text, -1) {
			full := text[loc[0]:loc[1]]
			el := Element{Kind: r.kind, Content: full}
			if len(loc) > 3 && loc[2] >= 0 && loc[3] > loc[2] {
				el.Content = text[loc[2]:loc[3]]
			}
			switch r.kind {
			case MaskedLink:
				el.URL = text[loc[4]:loc[5]]
			case Header:
				el.Level = HeaderLevel(len(full) - len(strings.TrimLeft(full, "#")))
			}
			cands = append(cands, candidate{start: loc[0], end: loc[1], el: el})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].start < cands[j].start })

	var out []Element
	last := 0
	for _, c := range cands {
		if c.start < last {
			continue
		}
		if c.start > last {
			out = append(out, Element{Kind: Text, Content: text[last:c.start]})
		}
		out = append(out, c.el)
		last = c.end
	}
	if last < len(text) {
		out = append(out, Element{Kind: Text, Content: text[last:]})
	}
	return out
}
