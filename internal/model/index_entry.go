package model

type IndexedEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// IndexSnapshot holds every entry of the index as parallel slices in insertion order.
type IndexSnapshot struct {
	IDs   []string `json:"ids"`
	Texts []string `json:"documents"`
}

func (s *IndexSnapshot) Count() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

func (s *IndexSnapshot) TextSet() map[string]struct{} {
	if s == nil {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(s.Texts))
	for _, text := range s.Texts {
		set[text] = struct{}{}
	}
	return set
}

type QueryMatch struct {
	ID       string  `json:"id"`
	Text     string  `json:"document"`
	Distance float64 `json:"distance"`
}
