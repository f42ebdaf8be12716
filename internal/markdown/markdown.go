// Package markdown renders the small markdown subset found in assistant
// replies (headings, list items, bold, italic and inline code) for a
// terminal.
package markdown

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Span is a run of inline text with one style.
type Span struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// BlockKind classifies a line of a reply.
type BlockKind int

const (
	// Paragraph is plain text.
	Paragraph BlockKind = iota
	// Heading is a line starting with one or more '#'.
	Heading
	// Bullet is a line starting with "- ", "* " or "+ ".
	Bullet
	// Numbered is a line starting with "1. ", "2) " and so on.
	Numbered
	// Blank separates paragraphs.
	Blank
)

// Block is one line of a reply.
type Block struct {
	Kind   BlockKind
	Level  int
	Marker string
	Spans  []Span
}

// Styles maps spans and block kinds to lipgloss styles.
type Styles struct {
	Bold    lipgloss.Style
	Italic  lipgloss.Style
	Code    lipgloss.Style
	Heading lipgloss.Style
	Marker  lipgloss.Style
}

// DefaultStyles returns the terminal chat styles.
func DefaultStyles() Styles {
	return Styles{
		Bold:    lipgloss.NewStyle().Bold(true),
		Italic:  lipgloss.NewStyle().Italic(true),
		Code:    lipgloss.NewStyle().Foreground(lipgloss.Color("180")),
		Heading: lipgloss.NewStyle().Bold(true).Underline(true),
		Marker:  lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

// Parse splits text into blocks, one per line.
func Parse(text string) []Block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	blocks := make([]Block, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, parseLine(line))
	}
	return blocks
}

func parseLine(line string) Block {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Block{Kind: Blank}
	}
	if level := headingLevel(trimmed); level > 0 {
		return Block{Kind: Heading, Level: level, Spans: ParseInline(strings.TrimSpace(trimmed[level:]))}
	}
	indent := (len(line) - len(strings.TrimLeft(line, " \t"))) / 2
	if len(trimmed) > 2 && strings.ContainsRune("-*+", rune(trimmed[0])) && trimmed[1] == ' ' {
		return Block{Kind: Bullet, Level: indent, Marker: "•", Spans: ParseInline(trimmed[2:])}
	}
	if marker, rest, ok := numberedItem(trimmed); ok {
		return Block{Kind: Numbered, Level: indent, Marker: marker, Spans: ParseInline(rest)}
	}
	return Block{Kind: Paragraph, Spans: ParseInline(trimmed)}
}

func headingLevel(line string) int {
	level := 0
	for level < len(line) && level < 6 && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

func numberedItem(line string) (string, string, bool) {
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits == 0 || digits+1 >= len(line) {
		return "", "", false
	}
	if (line[digits] != '.' && line[digits] != ')') || line[digits+1] != ' ' {
		return "", "", false
	}
	return line[:digits+1], strings.TrimSpace(line[digits+2:]), true
}

// ParseInline splits a line into styled spans. Markers without a closing
// partner and backslash-escaped markers are kept as literal text.
func ParseInline(input string) []Span {
	if input == "" {
		return nil
	}
	p := inlineParser{input: input}
	return p.parse()
}

type inlineParser struct {
	input string
	cur   Span
	buf   strings.Builder
	spans []Span
}

func (p *inlineParser) parse() []Span {
	for i := 0; i < len(p.input); {
		rest := p.input[i:]
		switch {
		case rest[0] == '\\' && len(rest) > 1:
			p.buf.WriteByte(rest[1])
			i += 2
		case rest[0] == '`':
			i += p.toggle(&p.cur.Code, "`", rest)
		case p.cur.Code:
			p.buf.WriteByte(rest[0])
			i++
		case strings.HasPrefix(rest, "**"):
			i += p.toggle(&p.cur.Bold, "**", rest)
		case rest[0] == '*':
			i += p.toggle(&p.cur.Italic, "*", rest)
		default:
			p.buf.WriteByte(rest[0])
			i++
		}
	}
	p.flush()
	return p.spans
}

// toggle opens or closes a styled run at marker and returns the bytes
// consumed. An opening marker with no closing partner is literal text.
func (p *inlineParser) toggle(flag *bool, marker, rest string) int {
	if !*flag && !strings.Contains(rest[len(marker):], marker) {
		p.buf.WriteString(marker)
		return len(marker)
	}
	p.flush()
	*flag = !*flag
	return len(marker)
}

func (p *inlineParser) flush() {
	if p.buf.Len() == 0 {
		return
	}
	span := p.cur
	span.Text = p.buf.String()
	p.spans = append(p.spans, span)
	p.buf.Reset()
}

// Render formats text for a terminal.
func Render(text string, styles Styles) string {
	blocks := Parse(text)
	lines := make([]string, 0, len(blocks))
	for _, block := range blocks {
		lines = append(lines, renderBlock(block, styles))
	}
	return strings.Join(lines, "\n")
}

func renderBlock(block Block, styles Styles) string {
	switch block.Kind {
	case Blank:
		return ""
	case Heading:
		return styles.Heading.Render(plainText(block.Spans))
	case Bullet, Numbered:
		return strings.Repeat("  ", block.Level) + styles.Marker.Render(block.Marker) + " " + renderSpans(block.Spans, styles)
	default:
		return renderSpans(block.Spans, styles)
	}
}

func renderSpans(spans []Span, styles Styles) string {
	var b strings.Builder
	for _, span := range spans {
		switch {
		case span.Code:
			b.WriteString(styles.Code.Render(span.Text))
		case span.Bold && span.Italic:
			b.WriteString(styles.Bold.Inherit(styles.Italic).Render(span.Text))
		case span.Bold:
			b.WriteString(styles.Bold.Render(span.Text))
		case span.Italic:
			b.WriteString(styles.Italic.Render(span.Text))
		default:
			b.WriteString(span.Text)
		}
	}
	return b.String()
}

func plainText(spans []Span) string {
	var b strings.Builder
	for _, span := range spans {
		b.WriteString(span.Text)
	}
	return b.String()
}
