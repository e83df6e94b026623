package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestMergeFields_OverwritesMatchedColumnByID(t *testing.T) {
	existing := []ExtractionResult{
		{ColumnID: "date", ColumnName: "Date", Value: strPtr("2024-03-15")},
		{ColumnID: "total", ColumnName: "Total", Value: strPtr("42.00"), Redone: false},
	}
	updates := []ExtractionResult{
		{ColumnID: "total", ColumnName: "Total", Value: strPtr("42.50")},
	}

	merged := MergeFields(existing, updates)

	assert.Equal(t, "2024-03-15", *merged[0].Value)
	assert.False(t, merged[0].Redone)
	assert.Equal(t, "42.50", *merged[1].Value)
	assert.True(t, merged[1].Redone)
}

func TestMergeFields_FallsBackToColumnNameMatch(t *testing.T) {
	existing := []ExtractionResult{
		{ColumnID: "amount", ColumnName: "Total", Value: strPtr("1.00")},
	}
	updates := []ExtractionResult{
		{ColumnID: "col_1", ColumnName: "Total", Value: strPtr("99.99")},
	}

	merged := MergeFields(existing, updates)

	assert.Equal(t, "amount", merged[0].ColumnID)
	assert.Equal(t, "99.99", *merged[0].Value)
	assert.True(t, merged[0].Redone)
}

func TestMergeFields_UnmatchedRedoColumnLeavesOthersUnchanged(t *testing.T) {
	existing := []ExtractionResult{
		{ColumnID: "date", Value: strPtr("2024-03-15")},
		{ColumnID: "total", Value: strPtr("42.00")},
	}
	updates := []ExtractionResult{
		{ColumnID: "nonexistent", Value: strPtr("x")},
	}

	merged := MergeFields(existing, updates)

	assert.Equal(t, "2024-03-15", *merged[0].Value)
	assert.Equal(t, "42.00", *merged[1].Value)
	assert.False(t, merged[0].Redone)
	assert.False(t, merged[1].Redone)
}

func TestMergeFields_IdempotentOnRepeatedApplication(t *testing.T) {
	existing := []ExtractionResult{
		{ColumnID: "total", Value: strPtr("42.00")},
	}
	updates := []ExtractionResult{
		{ColumnID: "total", Value: strPtr("42.50")},
	}

	once := MergeFields(existing, updates)
	twice := MergeFields(once, updates)

	assert.Equal(t, once, twice)
}

func TestStore_Backoff_CapsAtMaxRetryDelay(t *testing.T) {
	s := &Store{config: StoreConfig{BaseRetryDelay: 5 * time.Second, MaxRetryDelay: 60 * time.Second}}

	assert.Equal(t, 5*time.Second, s.backoff(1))
	assert.Equal(t, 20*time.Second, s.backoff(2))
	assert.Equal(t, 45*time.Second, s.backoff(3))
	assert.Equal(t, 60*time.Second, s.backoff(4))
}

func TestExtractionResult_MatchesColumn(t *testing.T) {
	r := ExtractionResult{ColumnID: "total", ColumnName: "Total"}

	assert.True(t, r.MatchesColumn("total", "anything"))
	assert.True(t, r.MatchesColumn("", "Total"))
	assert.False(t, r.MatchesColumn("other", "Different"))
}

func TestExtractionResult_RowIndexPointer(t *testing.T) {
	r := ExtractionResult{RowIndex: intPtr(2)}
	assert.Equal(t, 2, *r.RowIndex)
}
