package markup

// Document is parsed markup: the normalized text and its tags in order.
type Document struct {
	Text  string
	Tags  []*Tag
	index map[int]int // tag offset -> position in Tags
}

// IndexOf returns the position of t in d.Tags, or -1 if t did not come from d.
func (d *Document) IndexOf(t *Tag) int {
	if t == nil {
		return -1
	}
	i, ok := d.index[t.Offset]
	if !ok || d.Tags[i] != t {
		return -1
	}
	return i
}

// FindStartTag returns the first start tag named name after the tag after
// (from the beginning when nil), stopping before the tag stop (no bound when
// nil). An empty name matches any tag.
func (d *Document) FindStartTag(name string, after, stop *Tag) *Tag {
	return d.findForward(name, false, after, stop)
}

// FindEndTag is FindStartTag for end tags.
func (d *Document) FindEndTag(name string, after, stop *Tag) *Tag {
	return d.findForward(name, true, after, stop)
}

// FindPrevStartTag returns the nearest start tag named name before the tag
// before (from the end when nil), not going past the tag stop.
func (d *Document) FindPrevStartTag(name string, before, stop *Tag) *Tag {
	return d.findBackward(name, false, before, stop)
}

// FindPrevEndTag is FindPrevStartTag for end tags.
func (d *Document) FindPrevEndTag(name string, before, stop *Tag) *Tag {
	return d.findBackward(name, true, before, stop)
}

func (d *Document) findForward(name string, end bool, after, stop *Tag) *Tag {
	from := 0
	if after != nil {
		if from = d.IndexOf(after) + 1; from == 0 {
			return nil
		}
	}
	limit := len(d.Tags)
	if stop != nil {
		if limit = d.IndexOf(stop); limit < 0 {
			return nil
		}
	}
	for i := from; i < limit; i++ {
		if t := d.Tags[i]; t.End == end && (name == "" || t.Name == name) {
			return t
		}
	}
	return nil
}

func (d *Document) findBackward(name string, end bool, before, stop *Tag) *Tag {
	from := len(d.Tags) - 1
	if before != nil {
		if from = d.IndexOf(before) - 1; from < -1 {
			return nil
		}
	}
	limit := -1
	if stop != nil {
		if limit = d.IndexOf(stop); limit < 0 {
			return nil
		}
	}
	for i := from; i > limit; i-- {
		if t := d.Tags[i]; t.End == end && (name == "" || t.Name == name) {
			return t
		}
	}
	return nil
}

// FindCorrespondingEndTag returns the end tag closing start, counting nested
// tags of the same name. Self-closing and void tags close themselves.
func (d *Document) FindCorrespondingEndTag(start *Tag) *Tag {
	if start == nil || start.End || start.Closed() {
		return nil
	}
	i := d.IndexOf(start)
	if i < 0 {
		return nil
	}
	depth := 1
	for _, t := range d.Tags[i+1:] {
		if t.Name != start.Name {
			continue
		}
		switch {
		case t.End:
			depth--
			if depth == 0 {
				return t
			}
		case !t.Closed():
			depth++
		}
	}
	return nil
}

// InnerHTML returns the raw text between start and end. When end is nil the
// corresponding end tag is used. Self-closing tags have no content.
func (d *Document) InnerHTML(start, end *Tag) string {
	if start == nil || start.Closed() {
		return ""
	}
	if end == nil {
		end = d.FindCorrespondingEndTag(start)
	}
	if end == nil || end.Offset < start.EndOffset() {
		return ""
	}
	return d.Text[start.EndOffset():end.Offset]
}
