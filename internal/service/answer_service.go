package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/metrics"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const answerPromptTemplate = `You are a helpful DevOps assistant. Use the following context to answer the question.

Context:
%s

User: %s

Answer:`

type AnswerService struct {
	pipeline  *Pipeline
	generator ai.IGenerator
	timeout   time.Duration
	metrics   *metrics.Metrics
}

func NewAnswerService(pipeline *Pipeline, generator ai.IGenerator, timeout time.Duration, m *metrics.Metrics) *AnswerService {
	return &AnswerService{
		pipeline:  pipeline,
		generator: generator,
		timeout:   timeout,
		metrics:   m,
	}
}

// Answer retrieves the closest chunks for question and asks the generator to
// answer from them. It fails with ErrNoContext when the index has nothing.
func (s *AnswerService) Answer(ctx context.Context, question string) (*model.Answer, error) {
	matches, err := s.pipeline.query(ctx, "retrieve", question, DefaultRetrieveK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		s.metrics.ObserveAnswer("no_context")
		return nil, appErr.ErrNoContext
	}
	texts := make([]string, 0, len(matches))
	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
		sources = append(sources, m.ID)
	}
	joined := strings.Join(texts, "\n")
	answer, err := s.generate(ctx, BuildPrompt(joined, question))
	if err != nil {
		s.metrics.ObserveAnswer("error")
		return nil, err
	}
	s.metrics.ObserveAnswer("ok")
	return &model.Answer{
		Question: question,
		Context:  joined,
		Sources:  sources,
		Answer:   answer,
	}, nil
}

func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf(answerPromptTemplate, contextText, question)
}

func (s *AnswerService) generate(ctx context.Context, prompt string) (string, error) {
	if s.generator == nil {
		return "", ai.ErrUnavailable
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		logutil.GetLogger(ctx).Error("completion failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ai.ErrUnavailable, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty ai response: %w", ai.ErrUnavailable)
	}
	return out, nil
}
