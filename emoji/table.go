// Package emoji resolves the logical sticker names used by the SEND_EMOJI
// directive to displayable URLs. Unknown names resolve to nothing; the
// session drops them silently because they are model hallucinations, not
// faults.
package emoji

// Table maps sticker names to URLs. A nil Table resolves nothing.
type Table struct {
	entries map[string]string
}

// NewTable builds a table from a name -> URL map. The map is copied.
func NewTable(entries map[string]string) *Table {
	cp := make(map[string]string, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &Table{entries: cp}
}

// DefaultTable returns the built-in sticker set.
func DefaultTable() *Table {
	return NewTable(map[string]string{
		"wave":  "emoji://wave",
		"hug":   "emoji://hug",
		"heart": "emoji://heart",
		"laugh": "emoji://laugh",
		"cry":   "emoji://cry",
		"angry": "emoji://angry",
		"sleep": "emoji://sleep",
	})
}

// Resolve returns the URL for a name and whether it exists.
func (t *Table) Resolve(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	url, ok := t.entries[name]
	return url, ok
}

// Names returns the number of known stickers.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
