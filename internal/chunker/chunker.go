package chunker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/docrag/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultMaxTokens     = 100
	DefaultOverlapTokens = 20
	DefaultFilename      = "uploaded.txt"
)

type Option func(*Chunker)

func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		c.maxTokens = n
	}
}

func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		c.overlapTokens = n
	}
}

// Chunker turns documents into overlapping, sentence aligned chunks.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.maxTokens, c.overlapTokens = normalize(c.maxTokens, c.overlapTokens)
	return c
}

func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

func (c *Chunker) OverlapTokens() int {
	return c.overlapTokens
}

// Split chunks a document. Markdown files are flattened to plain text first.
func (c *Chunker) Split(ctx context.Context, doc model.Document) []model.Chunk {
	logger := logutil.GetLogger(ctx)
	source := SourceName(doc.Filename)
	text := doc.Text
	if IsMarkdown(doc.Filename) {
		text = FlattenMarkdown(text)
	}
	parts := Chunk(text, c.maxTokens, c.overlapTokens)
	chunks := make([]model.Chunk, 0, len(parts))
	for i, part := range parts {
		tokens := CountTokens(part)
		logger.Debug("chunk sealed",
			zap.String("source", source),
			zap.Int("index", i),
			zap.Int("tokens", tokens),
		)
		chunks = append(chunks, model.Chunk{
			Text:       part,
			TokenCount: tokens,
			Source:     source,
			Index:      i,
		})
	}
	logger.Debug("chunking completed",
		zap.String("source", source),
		zap.Int("size", len(doc.Text)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks
}

// Chunk packs whole sentences greedily into chunks of at most maxTokens words.
// When a chunk is sealed its last overlapTokens words seed the next one. A
// sentence longer than maxTokens is never split and forms an oversized chunk.
func Chunk(text string, maxTokens, overlapTokens int) []string {
	maxTokens, overlapTokens = normalize(maxTokens, overlapTokens)
	var (
		chunks  []string
		current []string
		tokens  int
	)
	for _, sentence := range Sentences(text) {
		n := CountTokens(sentence)
		if len(current) == 0 || tokens+n <= maxTokens {
			current = append(current, sentence)
			tokens += n
			continue
		}
		sealed := strings.Join(current, " ")
		chunks = append(chunks, sealed)
		current = make([]string, 0, 2)
		tokens = 0
		if seed := tail(sealed, overlapTokens); seed != "" {
			current = append(current, seed)
			tokens = CountTokens(seed)
		}
		current = append(current, sentence)
		tokens += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// CountTokens counts whitespace delimited words.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// SourceName is the filename without directory and extension.
func SourceName(filename string) string {
	if strings.TrimSpace(filename) == "" {
		filename = DefaultFilename
	}
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		return base
	}
	return name
}

func IsMarkdown(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func normalize(maxTokens, overlapTokens int) (int, int) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return maxTokens, overlapTokens
}
