package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatUploadLimit(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1KB"},
		{10 << 20, "10MB"},
		{(10 << 20) + 5, "10MB"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatUploadLimit(tt.in))
	}
}
