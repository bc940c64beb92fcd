package domain

// CategorySkipAhead marks items that may be jumped into before they have
// been presented, even inside a linear test part.
const CategorySkipAhead = "x-tao-itemusage-skipahead"

// TestItem is a leaf of the navigation tree with its per-item flags.
type TestItem struct {
	ID            string   `json:"id"`
	Position      int      `json:"position"`
	Answered      bool     `json:"answered"`
	Viewed        bool     `json:"viewed"`
	Flagged       bool     `json:"flagged"`
	Informational bool     `json:"informational"`
	Categories    []string `json:"categories,omitempty"`
}

// HasCategory reports whether the item carries the given category flag.
func (i *TestItem) HasCategory(cat string) bool {
	for _, c := range i.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// TestSection groups items inside a test part.
type TestSection struct {
	ID       string     `json:"id"`
	Label    string     `json:"label,omitempty"`
	Position int        `json:"position"`
	Items    []TestItem `json:"items"`
}

// TestPart groups sections. IsLinear parts forbid backward movement and
// require items to be taken in presentation order.
type TestPart struct {
	ID       string        `json:"id"`
	Position int           `json:"position"`
	IsLinear bool          `json:"isLinear"`
	Sections []TestSection `json:"sections"`
}

// TestStats aggregates per-item flags over a map, a part or a section.
type TestStats struct {
	Questions int `json:"questions"`
	Answered  int `json:"answered"`
	Viewed    int `json:"viewed"`
	Flagged   int `json:"flagged"`
	Total     int `json:"total"`
}

// TestMap is the hierarchical navigation tree: testPart -> section -> item.
// The proxy treats it as externally owned and only splices in freshly
// synced server responses or recomputed stats.
type TestMap struct {
	Parts []TestPart `json:"parts"`
	Stats TestStats  `json:"stats"`
}

// ItemRef locates an item inside the map together with its ancestors.
type ItemRef struct {
	Item    *TestItem
	Section *TestSection
	Part    *TestPart
}

// Flatten returns references to every item in presentation order.
func (m *TestMap) Flatten() []ItemRef {
	var refs []ItemRef
	for p := range m.Parts {
		part := &m.Parts[p]
		for s := range part.Sections {
			section := &part.Sections[s]
			for i := range section.Items {
				refs = append(refs, ItemRef{
					Item:    &section.Items[i],
					Section: section,
					Part:    part,
				})
			}
		}
	}
	return refs
}

// FindItem locates an item by identifier. Returns a zero ItemRef and
// false when the identifier is unknown.
func (m *TestMap) FindItem(id string) (ItemRef, bool) {
	for _, ref := range m.Flatten() {
		if ref.Item.ID == id {
			return ref, true
		}
	}
	return ItemRef{}, false
}

// ItemAt returns the item at the given flat position.
func (m *TestMap) ItemAt(position int) (ItemRef, bool) {
	refs := m.Flatten()
	if position < 0 || position >= len(refs) {
		return ItemRef{}, false
	}
	return refs[position], true
}

// Size returns the total number of items.
func (m *TestMap) Size() int {
	n := 0
	for _, p := range m.Parts {
		for _, s := range p.Sections {
			n += len(s.Items)
		}
	}
	return n
}

// RecomputeStats refreshes the aggregate counters from the item flags.
// Informational items do not count as questions.
func (m *TestMap) RecomputeStats() {
	stats := TestStats{}
	for _, ref := range m.Flatten() {
		it := ref.Item
		stats.Total++
		if !it.Informational {
			stats.Questions++
			if it.Answered {
				stats.Answered++
			}
		}
		if it.Viewed {
			stats.Viewed++
		}
		if it.Flagged {
			stats.Flagged++
		}
	}
	m.Stats = stats
}
