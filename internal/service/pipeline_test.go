package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/index"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const runbook = "Restart the ingress controller when requests time out. " +
	"Check the node pool for disk pressure before scaling. " +
	"Rotate the TLS certificates every ninety days. " +
	"Page the on call engineer if the error budget burns too fast."

const billing = "Invoices are generated on the first day of each month. " +
	"Refunds require approval from the finance team. " +
	"Currency conversion uses the daily reference rate."

func newTestEmbedder(t *testing.T) ai.IEmbedder {
	t.Helper()
	p, err := ai.NewEmbedProvider("hashing", map[string]interface{}{"dim": 128})
	require.NoError(t, err)
	return ai.NewEmbedder(p, "")
}

func newTestPipeline(t *testing.T, opts ...PipelineOption) (*Pipeline, *index.MemoryIndex) {
	t.Helper()
	idx := index.NewMemoryIndex(index.MetricCosine)
	opts = append([]PipelineOption{WithChunker(chunker.New(chunker.WithMaxTokens(12), chunker.WithOverlapTokens(3)))}, opts...)
	return NewPipeline(idx, newTestEmbedder(t), opts...), idx
}

func TestIngestAddsChunks(t *testing.T) {
	ctx := context.Background()
	p, idx := newTestPipeline(t)

	res, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	require.True(t, res.Added())
	require.Equal(t, "runbook.txt", res.Filename)
	require.Equal(t, res.TotalChunks, res.AddedChunks)
	require.Greater(t, res.AddedChunks, 1)
	for i, id := range res.IDs {
		require.Equal(t, fmt.Sprintf("runbook_chunk_%d", i), id)
	}
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, res.AddedChunks, n)
}

func TestIngestSameDocumentTwice(t *testing.T) {
	ctx := context.Background()
	p, idx := newTestPipeline(t)

	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	before, err := idx.Count(ctx)
	require.NoError(t, err)

	res, err := p.Ingest(ctx, runbook, "copy-of-runbook.txt")
	require.NoError(t, err)
	require.Equal(t, model.IngestStatusSkipped, res.Status)
	require.Equal(t, model.SkipReasonAllDuplicates, res.Reason)
	require.Equal(t, 0, res.AddedChunks)
	after, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestIngestDisjointDocumentContinuesIDs(t *testing.T) {
	ctx := context.Background()
	p, idx := newTestPipeline(t)

	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	before, err := idx.Count(ctx)
	require.NoError(t, err)

	res, err := p.Ingest(ctx, billing, "billing.md")
	require.NoError(t, err)
	require.True(t, res.Added())
	require.Equal(t, res.TotalChunks, res.AddedChunks)
	for i, id := range res.IDs {
		require.Equal(t, fmt.Sprintf("billing_chunk_%d", before+i), id)
	}

	snap, err := p.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, before+res.AddedChunks, snap.Count())
	require.Equal(t, res.IDs, snap.IDs[before:])
}

func TestIngestEmptyInput(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	for _, text := range []string{"", "   \n\t "} {
		res, err := p.Ingest(ctx, text, "empty.txt")
		require.NoError(t, err)
		require.Equal(t, model.IngestStatusSkipped, res.Status)
		require.Equal(t, model.SkipReasonEmptyInput, res.Reason)
		require.Equal(t, 0, res.TotalChunks)
	}
}

func TestIngestDefaultsFilename(t *testing.T) {
	p, _ := newTestPipeline(t)
	res, err := p.Ingest(context.Background(), "Hello there.", "")
	require.NoError(t, err)
	require.Equal(t, chunker.DefaultFilename, res.Filename)
	require.Equal(t, []string{"uploaded_chunk_0"}, res.IDs)
}

type failingEmbedder struct{}

func (failingEmbedder) Encode(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model not loaded")
}

func (failingEmbedder) ModelName() string {
	return "failing"
}

func TestIngestEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex(index.MetricCosine)
	p := NewPipeline(idx, failingEmbedder{})
	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.ErrorIs(t, err, ai.ErrEmbedding)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = p.Search(ctx, "certificates", 3)
	require.ErrorIs(t, err, ai.ErrEmbedding)
}

type brokenIndex struct {
	*index.MemoryIndex
	addErr error
	getErr error
}

func (b *brokenIndex) Add(ctx context.Context, entries []model.IndexedEntry) error {
	if b.addErr != nil {
		return b.addErr
	}
	return b.MemoryIndex.Add(ctx, entries)
}

func (b *brokenIndex) GetAll(ctx context.Context) (*model.IndexSnapshot, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.MemoryIndex.GetAll(ctx)
}

func TestIngestIndexFailures(t *testing.T) {
	ctx := context.Background()
	idx := &brokenIndex{MemoryIndex: index.NewMemoryIndex(index.MetricCosine), addErr: fmt.Errorf("disk full: %w", index.ErrWrite)}
	p := NewPipeline(idx, newTestEmbedder(t))
	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.ErrorIs(t, err, index.ErrWrite)

	idx.addErr = nil
	idx.getErr = fmt.Errorf("gone: %w", index.ErrQuery)
	_, err = p.Ingest(ctx, runbook, "runbook.txt")
	require.ErrorIs(t, err, index.ErrQuery)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	p, _ := newTestPipeline(t)
	texts, err := p.Retrieve(context.Background(), "how do I rotate certificates?", 0)
	require.NoError(t, err)
	require.Empty(t, texts)
}

func TestQueryBlank(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.Retrieve(context.Background(), "  ", 3)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = p.Search(context.Background(), "", 5)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestSearchOrderedByDistance(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	_, err = p.Ingest(ctx, billing, "billing.txt")
	require.NoError(t, err)

	matches, err := p.Search(ctx, "rotate the TLS certificates", 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(matches), DefaultSearchK)
	require.NotEmpty(t, matches)
	for i := 1; i < len(matches); i++ {
		require.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
	require.Contains(t, matches[0].Text, "TLS certificates")
	require.True(t, strings.HasPrefix(matches[0].ID, "runbook_chunk_"))

	texts, err := p.Retrieve(ctx, "rotate the TLS certificates", 0)
	require.NoError(t, err)
	require.Len(t, texts, DefaultRetrieveK)
	require.Equal(t, matches[0].Text, texts[0])
}

func TestConcurrentIngestAllocatesUniqueIDs(t *testing.T) {
	ctx := context.Background()
	p, idx := newTestPipeline(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("Document %d talks about service %d. It has unique content number %d.", i, i, i)
			_, err := p.Ingest(ctx, text, "shared.txt")
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	snap, err := idx.GetAll(ctx)
	require.NoError(t, err)
	seen := map[string]struct{}{}
	for _, id := range snap.IDs {
		_, dup := seen[id]
		require.False(t, dup, id)
		seen[id] = struct{}{}
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (r *recordingPublisher) PublishIngest(_ context.Context, source string, _ *model.IngestResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
	return r.err
}

func (r *recordingPublisher) Close() error {
	return nil
}

func TestIngestPublishesEvents(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	p, _ := newTestPipeline(t, WithPublisher(pub))

	res, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	require.True(t, res.Added())
	_, err = p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"runbook"}, pub.sources)
}

type blockingPublisher struct {
	entered chan string
	release chan struct{}
}

func (b *blockingPublisher) PublishIngest(_ context.Context, source string, _ *model.IngestResult) error {
	b.entered <- source
	<-b.release
	return nil
}

func (b *blockingPublisher) Close() error {
	return nil
}

func TestSlowPublishDoesNotBlockOtherIngests(t *testing.T) {
	ctx := context.Background()
	pub := &blockingPublisher{entered: make(chan string, 2), release: make(chan struct{})}
	p, idx := newTestPipeline(t, WithPublisher(pub))

	firstDone := make(chan error, 1)
	go func() {
		_, err := p.Ingest(ctx, runbook, "runbook.txt")
		firstDone <- err
	}()
	require.Equal(t, "runbook", <-pub.entered)

	secondDone := make(chan error, 1)
	go func() {
		_, err := p.Ingest(ctx, billing, "billing.txt")
		secondDone <- err
	}()
	select {
	case source := <-pub.entered:
		require.Equal(t, "billing", source)
	case <-time.After(2 * time.Second):
		t.Fatal("second ingest stalled behind the first publish")
	}
	close(pub.release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	snap, err := p.Records(ctx)
	require.NoError(t, err)
	require.Equal(t, n, snap.Count())
}

func TestIngestKeepsRepeatedChunks(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex(index.MetricCosine)
	p := NewPipeline(idx, newTestEmbedder(t), WithChunker(chunker.New(chunker.WithMaxTokens(3), chunker.WithOverlapTokens(0))))

	res, err := p.Ingest(ctx, "Restart the pod. Restart the pod. Check the logs.", "ops.txt")
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalChunks)
	require.Equal(t, 3, res.AddedChunks)
	require.Equal(t, []string{"ops_chunk_0", "ops_chunk_1", "ops_chunk_2"}, res.IDs)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	res, err = p.Ingest(ctx, "Restart the pod.", "again.txt")
	require.NoError(t, err)
	require.Equal(t, model.IngestStatusSkipped, res.Status)
	require.Equal(t, model.SkipReasonAllDuplicates, res.Reason)
}

func TestLoadDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	p, _ := newTestPipeline(t)

	results, err := p.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_runbook.txt"), []byte(runbook), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_billing.md"), []byte("# Billing\n\n"+billing), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89, 0x50}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("secret."), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755))

	results, err = p.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a_billing.md", results[0].Filename)
	require.Equal(t, "b_runbook.txt", results[1].Filename)
	require.True(t, results[0].Added())
	require.Equal(t, "a_billing_chunk_0", results[0].IDs[0])

	results, err = p.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, model.SkipReasonAllDuplicates, r.Reason)
	}
}

func TestReady(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	n, err := p.Ready(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	_, err = p.Ingest(ctx, billing, "billing.txt")
	require.NoError(t, err)
	n, err = p.Ready(ctx)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}
