package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/model"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngester) IngestFile(_ context.Context, path string) (*model.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return &model.IngestResult{Status: model.IngestStatusAdded, AddedChunks: 1}, nil
}

func (r *recordingIngester) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestIngestTarget(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.md")
	hidden := filepath.Join(dir, ".draft.txt")
	binary := filepath.Join(dir, "image.png")
	sub := filepath.Join(dir, "nested.txt")
	for _, p := range []string{doc, hidden, binary} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{name: "create", ev: fsnotify.Event{Name: doc, Op: fsnotify.Create}, want: true},
		{name: "write", ev: fsnotify.Event{Name: doc, Op: fsnotify.Write}, want: true},
		{name: "remove", ev: fsnotify.Event{Name: doc, Op: fsnotify.Remove}},
		{name: "chmod", ev: fsnotify.Event{Name: doc, Op: fsnotify.Chmod}},
		{name: "hidden", ev: fsnotify.Event{Name: hidden, Op: fsnotify.Create}},
		{name: "unsupported extension", ev: fsnotify.Event{Name: binary, Op: fsnotify.Create}},
		{name: "directory", ev: fsnotify.Event{Name: sub, Op: fsnotify.Create}},
		{name: "vanished", ev: fsnotify.Event{Name: filepath.Join(dir, "gone.txt"), Op: fsnotify.Write}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ingestTarget(tt.ev)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestScheduleDebounces(t *testing.T) {
	ing := &recordingIngester{}
	w := New(t.TempDir(), 20*time.Millisecond, ing)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		w.schedule(ctx, "/data/a.txt")
	}
	w.schedule(ctx, "/data/b.txt")

	require.Eventually(t, func() bool { return len(ing.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	w.wait()
	require.ElementsMatch(t, []string{"/data/a.txt", "/data/b.txt"}, ing.snapshot())
}

func TestRunIngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w := New(dir, 10*time.Millisecond, ing)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	target := filepath.Join(dir, "runbook.txt")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte("Restart the service."), 0o644)
		for _, p := range ing.snapshot() {
			if p == target {
				return true
			}
		}
		return false
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
