package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/ai"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

type promptRecorder struct {
	prompts []string
	out     string
	err     error
}

func (p *promptRecorder) Generate(ctx context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("expected deadline")
	}
	return p.out, p.err
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	_, err := p.Ingest(ctx, runbook, "runbook.txt")
	require.NoError(t, err)

	gen := &promptRecorder{out: "  Rotate them every ninety days.\n"}
	svc := NewAnswerService(p, gen, time.Minute, nil)
	ans, err := svc.Answer(ctx, "How often should certificates rotate?")
	require.NoError(t, err)
	require.Equal(t, "Rotate them every ninety days.", ans.Answer)
	require.Len(t, ans.Sources, DefaultRetrieveK)
	require.Len(t, strings.Split(ans.Context, "\n"), DefaultRetrieveK)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	require.True(t, strings.HasPrefix(prompt, "You are a helpful DevOps assistant."))
	require.Contains(t, prompt, "Context:\n"+ans.Context)
	require.True(t, strings.HasSuffix(prompt, "User: How often should certificates rotate?\n\nAnswer:"))
}

func TestAnswerNoContext(t *testing.T) {
	p, _ := newTestPipeline(t)
	gen := &promptRecorder{out: "x"}
	_, err := NewAnswerService(p, gen, time.Minute, nil).Answer(context.Background(), "anything?")
	require.ErrorIs(t, err, appErr.ErrNoContext)
	require.Empty(t, gen.prompts)
}

func TestAnswerGeneratorFailures(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	_, err := p.Ingest(ctx, billing, "billing.txt")
	require.NoError(t, err)

	_, err = NewAnswerService(p, nil, time.Minute, nil).Answer(ctx, "refunds?")
	require.ErrorIs(t, err, ai.ErrUnavailable)

	_, err = NewAnswerService(p, &promptRecorder{err: errors.New("connection refused")}, time.Minute, nil).Answer(ctx, "refunds?")
	require.ErrorIs(t, err, ai.ErrUnavailable)

	_, err = NewAnswerService(p, &promptRecorder{out: "   "}, time.Minute, nil).Answer(ctx, "refunds?")
	require.ErrorIs(t, err, ai.ErrUnavailable)

	_, err = NewAnswerService(p, &promptRecorder{out: "x"}, time.Minute, nil).Answer(ctx, " ")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
