package model

const (
	IngestStatusAdded   = "added"
	IngestStatusSkipped = "skipped"
)

const (
	SkipReasonEmptyInput    = "empty_input"
	SkipReasonAllDuplicates = "all_duplicates"
)

type IngestResult struct {
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	Filename    string   `json:"filename"`
	TotalChunks int      `json:"total_chunks"`
	AddedChunks int      `json:"added_chunks"`
	IDs         []string `json:"ids,omitempty"`
}

func (r *IngestResult) Added() bool {
	return r != nil && r.Status == IngestStatusAdded
}

type Reconciliation struct {
	Accepted []Chunk
	IDs      []string
	Skipped  int
	Reason   string
}

func (r *Reconciliation) Texts() []string {
	texts := make([]string, 0, len(r.Accepted))
	for _, chunk := range r.Accepted {
		texts = append(texts, chunk.Text)
	}
	return texts
}

type Answer struct {
	Question string   `json:"question"`
	Context  string   `json:"context"`
	Sources  []string `json:"sources"`
	Answer   string   `json:"answer"`
}
