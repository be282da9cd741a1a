package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIfAbsent_EmptyRows(t *testing.T) {
	n, err := InsertIfAbsent(nil, nil, UpsertConfig{
		Table:        "civic.dim_disease",
		Columns:      []string{"doid", "label_display"},
		ConflictKeys: []string{"doid"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInsertIfAbsent_NoColumns(t *testing.T) {
	_, err := InsertIfAbsent(nil, nil, UpsertConfig{
		Table:        "civic.dim_disease",
		ConflictKeys: []string{"doid"},
	}, [][]any{{"3908", "lung cancer"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestInsertIfAbsent_NoConflictKeys(t *testing.T) {
	_, err := InsertIfAbsent(nil, nil, UpsertConfig{
		Table:   "civic.dim_disease",
		Columns: []string{"doid", "label_display"},
	}, [][]any{{"3908", "lung cancer"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"civic.dim_disease", `"civic"."dim_disease"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"eid", "doid", "variant_id"})
	assert.Equal(t, `"eid", "doid", "variant_id"`, result)
}
