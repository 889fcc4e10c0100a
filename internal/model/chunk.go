package model

type Document struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

type Chunk struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Source     string `json:"source"`
	Index      int    `json:"index"`
}
