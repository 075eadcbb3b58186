package markup

// Kind is the element type. Values match the JSON the render endpoint serves.
type Kind string

const (
	Text                Kind = "text"
	Bold                Kind = "bold"
	Italic              Kind = "italic"
	Underline           Kind = "underline"
	Strikethrough       Kind = "strikethrough"
	InlineCode          Kind = "inlinecode"
	CodeBlock           Kind = "codeblock"
	Header              Kind = "header"
	Blockquote          Kind = "blockquote"
	MultilineBlockquote Kind = "multilineblockquote"
	ListItem            Kind = "listitem"
	SubListItem         Kind = "sublistitem"
	MaskedLink          Kind = "maskedlink"
	URL                 Kind = "url"
	Subtext             Kind = "subtext"
)

// Element is one rendered span. URL is set for masked links, Language for
// code blocks and Level for headers.
type Element struct {
	Kind     Kind   `json:"type"`
	Content  string `json:"content"`
	URL      string `json:"url,omitempty"`
	Language string `json:"language,omitempty"`
	Level    int    `json:"level,omitempty"`
}

// HeaderLevel maps any header depth onto the three display levels.
func HeaderLevel(n int) int {
	switch {
	case n <= 1:
		return 1
	case n >= 3:
		return 3
	default:
		return n
	}
}

// URLs returns the bare links in els, in order. Callers use them as link
// preview keys.
func URLs(els []Element) []string {
	var out []string
	for _, e := range els {
		if e.Kind == URL {
			out = append(out, e.Content)
		}
	}
	return out
}
