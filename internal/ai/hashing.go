package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashingDim = 384

type hashingConfig struct {
	Dim int `json:"dim"`
}

// hashingProvider embeds text locally by hashing lowercase word unigrams and
// bigrams into a fixed number of signed buckets. Output is L2 normalised.
type hashingProvider struct {
	dim int
}

func (p *hashingProvider) Name() string {
	return "hashing"
}

func (p *hashingProvider) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, p.vector(text))
	}
	return vectors, nil
}

func (p *hashingProvider) vector(text string) []float32 {
	v := make([]float32, p.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		p.add(v, w, 1)
		if i > 0 {
			p.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (p *hashingProvider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func createHashingFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &hashingConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dim <= 0 {
		cfg.Dim = defaultHashingDim
	}
	return &hashingProvider{dim: cfg.Dim}, nil
}

func init() {
	RegisterEmbed("hashing", createHashingFactory)
}
