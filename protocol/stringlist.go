package protocol

import "strings"

// StringListIterator walks the comma separated tokens of a stringlist and
// yields the bit value of every recognized name. Unknown names are skipped.
type StringListIterator struct {
	rest  string
	names []StringListEntry
	done  bool
}

// NewStringListIterator starts iterating list against the vocabulary names.
func NewStringListIterator(list string, names []StringListEntry) *StringListIterator {
	return &StringListIterator{rest: list, names: names, done: list == ""}
}

// Next returns the value of the next recognized token.
func (it *StringListIterator) Next() (uint32, bool) {
	for !it.done {
		var token string
		if i := strings.IndexByte(it.rest, ','); i >= 0 {
			token, it.rest = it.rest[:i], it.rest[i+1:]
		} else {
			token, it.done = it.rest, true
		}
		token = strings.TrimSpace(token)
		for _, e := range it.names {
			if e.Name == token {
				return e.Value, true
			}
		}
	}
	return 0, false
}

// ParseStringList ORs together the values of all recognized tokens.
func ParseStringList(list string, names []StringListEntry) uint32 {
	var value uint32
	it := NewStringListIterator(list, names)
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		value |= v
	}
	return value
}

// FormatStringList joins the names of all bits set in value, in vocabulary
// order.
func FormatStringList(value uint32, names []StringListEntry) string {
	var parts []string
	for _, e := range names {
		if value&e.Value == e.Value && e.Value != 0 {
			parts = append(parts, e.Name)
		}
	}
	return strings.Join(parts, ",")
}
