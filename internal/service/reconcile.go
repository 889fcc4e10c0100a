package service

import (
	"fmt"

	"github.com/xxxsen/docrag/internal/model"
)

// Reconcile drops candidates whose text is already indexed and assigns ids to
// the rest, numbered on from existingCount. Repeats inside one document are
// kept since only the index decides what is a duplicate.
func Reconcile(candidates []model.Chunk, existingTexts map[string]struct{}, existingCount int, source string) model.Reconciliation {
	rec := model.Reconciliation{}
	if len(candidates) == 0 {
		rec.Reason = model.SkipReasonEmptyInput
		return rec
	}
	for _, c := range candidates {
		if _, ok := existingTexts[c.Text]; ok {
			rec.Skipped++
			continue
		}
		rec.IDs = append(rec.IDs, ChunkID(source, existingCount+len(rec.Accepted)))
		rec.Accepted = append(rec.Accepted, c)
	}
	if len(rec.Accepted) == 0 {
		rec.Reason = model.SkipReasonAllDuplicates
	}
	return rec
}

func ChunkID(source string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", source, n)
}
