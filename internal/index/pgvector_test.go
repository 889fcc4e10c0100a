package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/docrag/internal/testutil"
)

func TestPGVectorIndex(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	idx, err := New(context.Background(), "pgvector", Args{DB: conn, Data: map[string]interface{}{"distance": "cosine"}})
	require.NoError(t, err)
	exerciseIndex(t, idx)
}
