package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/docrag/internal/model"
)

func TestChunkOneSentencePerChunk(t *testing.T) {
	require.Equal(t, []string{"A.", "B.", "C."}, Chunk("A. B. C.", 1, 0))
}

func TestChunkEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t\n"} {
		require.Empty(t, Chunk(in, 100, 20), "input %q", in)
	}
}

func TestChunkNoOverlapPreservesSentences(t *testing.T) {
	text := "The cluster has three nodes. Each node runs a kubelet. " +
		"Pods are scheduled by the scheduler! Is the API server healthy? " +
		"Logs are shipped to the collector. Alerts fire on high latency."
	sentences := Sentences(text)
	chunks := Chunk(text, 8, 0)
	require.Greater(t, len(chunks), 1)

	var rebuilt []string
	for _, c := range chunks {
		rebuilt = append(rebuilt, Sentences(c)...)
	}
	require.Equal(t, sentences, rebuilt)
	for _, c := range chunks {
		require.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestChunkOverlapPrefix(t *testing.T) {
	text := strings.Repeat("one two three four five. six seven eight nine. ", 6)
	tests := []struct {
		name    string
		max     int
		overlap int
	}{
		{"small overlap", 10, 2},
		{"overlap larger than sentence", 10, 6},
		{"default", DefaultMaxTokens, DefaultOverlapTokens},
		{"tight", 5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(text, tt.max, tt.overlap)
			for i := 1; i < len(chunks); i++ {
				prev := strings.Fields(chunks[i-1])
				cur := strings.Fields(chunks[i])
				n := tt.overlap
				if n > len(prev) {
					n = len(prev)
				}
				require.Equal(t, prev[len(prev)-n:], cur[:n], "chunk %d", i)
			}
		})
	}
}

func TestChunkOversizedSentence(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 30)) + "."
	text := "Short one. " + long + " Short two."
	chunks := Chunk(text, 10, 0)
	require.Equal(t, []string{"Short one.", long, "Short two."}, chunks)
	require.Equal(t, 30, CountTokens(chunks[1]))
}

func TestChunkWithOverlapSmallLimit(t *testing.T) {
	require.Equal(t, []string{"A.", "A. B.", "B. C."}, Chunk("A. B. C.", 1, 1))
}

func TestChunkNormalizesParameters(t *testing.T) {
	text := "Alpha beta. Gamma delta."
	require.Equal(t, Chunk(text, DefaultMaxTokens, 0), Chunk(text, 0, -5))
}

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "Hello world. How are you? Fine!", []string{"Hello world.", "How are you?", "Fine!"}},
		{"abbreviation", "Use e.g. kubectl. Then wait.", []string{"Use e.g.", "kubectl.", "Then wait."}},
		{"decimal", "Pi is 3.14 roughly.", []string{"Pi is 3.14 roughly."}},
		{"closing quote", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"ellipsis run", "Wait... what?! Ok", []string{"Wait...", "what?!", "Ok"}},
		{"cjk", "你好。世界！再见", []string{"你好。", "世界！", "再见"}},
		{"paragraph", "Title\n\nBody text here", []string{"Title", "Body text here"}},
		{"single newline", "line one\nline two.", []string{"line one\nline two."}},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Sentences(tt.in))
		})
	}
}

func TestSourceName(t *testing.T) {
	require.Equal(t, "runbook", SourceName("runbook.txt"))
	require.Equal(t, "runbook", SourceName("/data/runbook.txt"))
	require.Equal(t, "archive.tar", SourceName("archive.tar.gz"))
	require.Equal(t, "uploaded", SourceName(""))
	require.Equal(t, ".env", SourceName(".env"))
}

func TestSplit(t *testing.T) {
	c := New(WithMaxTokens(4), WithOverlapTokens(0))
	chunks := c.Split(context.Background(), model.Document{
		Filename: "notes.txt",
		Text:     "Deploy the app. Check the logs. Roll back on failure.",
	})
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		require.Equal(t, "notes", ch.Source)
		require.Equal(t, i, ch.Index)
		require.Equal(t, CountTokens(ch.Text), ch.TokenCount)
	}
	require.Equal(t, "Deploy the app.", chunks[0].Text)
}

func TestSplitMarkdown(t *testing.T) {
	c := New(WithMaxTokens(3), WithOverlapTokens(0))
	chunks := c.Split(context.Background(), model.Document{
		Filename: "guide.md",
		Text:     "# Setup\n\nInstall **docker** first.\n\n- start it\n- verify it\n",
	})
	var texts []string
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
		require.Equal(t, "guide", ch.Source)
	}
	require.Equal(t, []string{"Setup", "Install docker first.", "start it", "verify it"}, texts)
}

func TestNewDefaults(t *testing.T) {
	c := New(WithMaxTokens(-1), WithOverlapTokens(-1))
	require.Equal(t, DefaultMaxTokens, c.MaxTokens())
	require.Equal(t, 0, c.OverlapTokens())
}
