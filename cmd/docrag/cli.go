package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/model"
)

func runIngest(ctx context.Context, cfg *config.Config, paths []string, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			results, err := a.pipeline.LoadDirectory(ctx, path)
			for _, r := range results {
				printResult(out, r)
			}
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			continue
		}
		result, err := a.pipeline.IngestFile(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		printResult(out, result)
	}
	return nil
}

func printResult(out io.Writer, r *model.IngestResult) {
	line := fmt.Sprintf("%s\t%s\tchunks=%d added=%d", r.Filename, r.Status, r.TotalChunks, r.AddedChunks)
	if r.Reason != "" {
		line += "\treason=" + r.Reason
	}
	fmt.Fprintln(out, line)
}

func runQuery(ctx context.Context, cfg *config.Config, question string, k int, answer bool, out io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if answer {
		res, err := a.answers.Answer(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Answer)
		fmt.Fprintf(out, "\nsources: %v\n", res.Sources)
		return nil
	}
	matches, err := a.pipeline.Search(ctx, question, k)
	if err != nil {
		return err
	}
	for i, m := range matches {
		fmt.Fprintf(out, "%d. [%s] %.4f\n   %s\n", i+1, m.ID, m.Distance, m.Text)
	}
	return nil
}
