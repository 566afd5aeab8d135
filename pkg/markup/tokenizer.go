// Package markup is a single-pass, offset-preserving tag scanner for fetched
// pages. It does not build a tree; it records where every tag and attribute
// value sits in the text so callers can rewrite byte ranges in place.
package markup

import (
	"strings"

	"golang.org/x/net/html"
)

// Attribute is one tag attribute. ValueOffset is -1 for attributes written
// without a value.
type Attribute struct {
	Name        string // Lower-cased
	Value       string // Entity-decoded
	ValueOffset int    // Offset of the raw value, inside any quotes
	ValueLength int
}

// Tag is a start or end tag found in the text.
type Tag struct {
	Name        string // Lower-cased
	Offset      int    // Offset of '<'
	Length      int    // Through the closing '>'
	End         bool   // </name>
	SelfClosing bool   // <name ... />
	Void        bool   // An element that never has content, such as img or br
	Attrs       []Attribute
}

// EndOffset is the offset just past the tag's closing '>'.
func (t *Tag) EndOffset() int { return t.Offset + t.Length }

// Closed reports whether the tag stands alone and has no matching end tag.
func (t *Tag) Closed() bool { return t.SelfClosing || t.Void }

// Attribute returns the named attribute, or nil.
func (t *Tag) Attribute(name string) *Attribute {
	name = strings.ToLower(name)
	for i := range t.Attrs {
		if t.Attrs[i].Name == name {
			return &t.Attrs[i]
		}
	}
	return nil
}

// Attr returns the decoded value of the named attribute.
func (t *Tag) Attr(name string) (string, bool) {
	if a := t.Attribute(name); a != nil {
		return a.Value, true
	}
	return "", false
}

var rawTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"title":    true,
	"textarea": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Normalize folds "\r\n" and lone "\r" into "\n". All offsets produced by
// Parse refer to the normalized text.
func Normalize(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// Parse scans text once and returns its tags in document order.
// Comments, <!...> and <?...> constructs are skipped. Script, style, title and
// textarea contents are not tokenized. An unterminated construct ends the scan.
func Parse(text string) *Document {
	text = Normalize(text)
	s := &scanner{text: text, lower: asciiLower(text)}
	s.run()

	doc := &Document{Text: text, Tags: s.tags, index: make(map[int]int, len(s.tags))}
	for i, t := range s.tags {
		doc.index[t.Offset] = i
	}
	return doc
}

type scanner struct {
	text  string
	lower string // ASCII-lowered copy; same byte offsets as text
	pos   int
	tags  []*Tag
}

func (s *scanner) run() {
	n := len(s.text)
	for s.pos < n {
		lt := strings.IndexByte(s.text[s.pos:], '<')
		if lt < 0 {
			return
		}
		p := s.pos + lt
		if p+1 >= n {
			return
		}

		switch c := s.text[p+1]; {
		case strings.HasPrefix(s.text[p:], "<!--"):
			end := strings.Index(s.text[p+4:], "-->")
			if end < 0 {
				return
			}
			s.pos = p + 4 + end + 3
		case c == '!' || c == '?':
			end := strings.IndexByte(s.text[p:], '>')
			if end < 0 {
				return
			}
			s.pos = p + end + 1
		case c == '/':
			if !s.endTag(p) {
				return
			}
		case isASCIILetter(c):
			tag, ok := s.startTag(p)
			if !ok {
				return
			}
			if rawTextElements[tag.Name] && !tag.SelfClosing && !s.skipRawText(tag.Name) {
				return
			}
		default:
			s.pos = p + 1 // A literal '<'
		}
	}
}

// endTag scans </name ...>. A '</' not followed by a letter is a bogus
// comment and is skipped up to the next '>'.
func (s *scanner) endTag(p int) bool {
	gt := strings.IndexByte(s.text[p:], '>')
	if gt < 0 {
		return false
	}
	end := p + gt + 1
	s.pos = end
	if p+2 >= len(s.text) || !isASCIILetter(s.text[p+2]) {
		return true
	}
	nameEnd := p + 2
	for nameEnd < end-1 && !isSpace(s.text[nameEnd]) && s.text[nameEnd] != '/' {
		nameEnd++
	}
	s.tags = append(s.tags, &Tag{
		Name:   s.lower[p+2 : nameEnd],
		Offset: p,
		Length: end - p,
		End:    true,
	})
	return true
}

// startTag scans <name attr=value ...>, leaving pos after the '>'.
func (s *scanner) startTag(p int) (*Tag, bool) {
	text := s.text
	n := len(text)
	i := p + 1
	for i < n && !isSpace(text[i]) && text[i] != '/' && text[i] != '>' {
		i++
	}
	tag := &Tag{Name: s.lower[p+1 : i], Offset: p}
	tag.Void = voidElements[tag.Name]
	seen := make(map[string]bool)

	for {
		for i < n && isSpace(text[i]) {
			i++
		}
		if i >= n {
			return nil, false
		}
		switch text[i] {
		case '>':
			tag.Length = i + 1 - p
			s.pos = i + 1
			s.tags = append(s.tags, tag)
			return tag, true
		case '/':
			if i+1 < n && text[i+1] == '>' {
				tag.SelfClosing = true
				tag.Length = i + 2 - p
				s.pos = i + 2
				s.tags = append(s.tags, tag)
				return tag, true
			}
			i++
			continue
		}

		nameStart := i
		for i < n && !isSpace(text[i]) && text[i] != '=' && text[i] != '>' && !(text[i] == '/' && i+1 < n && text[i+1] == '>') {
			i++
		}
		if i == nameStart { // A stray '=' before any name
			i++
			continue
		}
		attr := Attribute{Name: s.lower[nameStart:i], ValueOffset: -1}

		j := i
		for j < n && isSpace(text[j]) {
			j++
		}
		if j < n && text[j] == '=' {
			j++
			for j < n && isSpace(text[j]) {
				j++
			}
			if j >= n {
				return nil, false
			}
			if q := text[j]; q == '"' || q == '\'' {
				closeQ := strings.IndexByte(text[j+1:], q)
				if closeQ < 0 {
					return nil, false
				}
				attr.ValueOffset = j + 1
				attr.ValueLength = closeQ
				i = j + 1 + closeQ + 1
			} else {
				k := j
				for k < n && !isSpace(text[k]) && text[k] != '>' {
					k++
				}
				attr.ValueOffset = j
				attr.ValueLength = k - j
				i = k
			}
			attr.Value = html.UnescapeString(text[attr.ValueOffset : attr.ValueOffset+attr.ValueLength])
		}

		if !seen[attr.Name] {
			seen[attr.Name] = true
			tag.Attrs = append(tag.Attrs, attr)
		}
	}
}

// skipRawText moves pos to the end tag closing the raw text element name.
func (s *scanner) skipRawText(name string) bool {
	needle := "</" + name
	from := s.pos
	for {
		k := strings.Index(s.lower[from:], needle)
		if k < 0 {
			return false
		}
		at := from + k
		after := at + len(needle)
		if after >= len(s.text) {
			return false
		}
		if c := s.text[after]; c == '>' || c == '/' || isSpace(c) {
			s.pos = at
			return true
		}
		from = after
	}
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\f' || c == '\r'
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
