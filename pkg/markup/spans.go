package markup

import (
	"sort"
	"strings"
)

// SpanKind says where a span's replacement text comes from.
type SpanKind int

const (
	SpanLiteral  SpanKind = iota // Value is used as is
	SpanResource                 // Key is a resource URL; the resolver supplies its local path
	SpanPage                     // Key is a page URL; the resolver supplies the local page file
)

// ReplaceSpan is a byte range of the text to be replaced.
type ReplaceSpan struct {
	Offset int
	Length int
	Kind   SpanKind
	Key    string
	Value  string
}

// Resolver returns the replacement for a non-literal span. Returning false
// leaves the original text in place.
type Resolver func(span ReplaceSpan) (string, bool)

// SpanForAttribute returns a span covering the raw value of attr.
func SpanForAttribute(attr *Attribute, kind SpanKind, key string) (ReplaceSpan, bool) {
	if attr == nil || attr.ValueOffset < 0 {
		return ReplaceSpan{}, false
	}
	return ReplaceSpan{Offset: attr.ValueOffset, Length: attr.ValueLength, Kind: kind, Key: key}, true
}

// ApplySpans rewrites text with spans in ascending offset order. Spans that
// overlap an earlier one or fall outside text are dropped. resolve may be nil
// when every span is literal.
func ApplySpans(text string, spans []ReplaceSpan, resolve Resolver) string {
	if len(spans) == 0 {
		return text
	}
	ordered := make([]ReplaceSpan, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, sp := range ordered {
		if sp.Offset < pos || sp.Length < 0 || sp.Offset+sp.Length > len(text) {
			continue
		}
		value := sp.Value
		if sp.Kind != SpanLiteral {
			if resolve == nil {
				continue
			}
			v, ok := resolve(sp)
			if !ok {
				continue
			}
			value = v
		}
		b.WriteString(text[pos:sp.Offset])
		b.WriteString(value)
		pos = sp.Offset + sp.Length
	}
	b.WriteString(text[pos:])
	return b.String()
}
