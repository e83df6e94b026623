package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
)

func testProject(multiRow, toonOutput bool) *projects.Project {
	return &projects.Project{
		Columns: []projects.ColumnDefinition{
			{ID: "col_a", DisplayName: "Column A", Type: projects.ColumnTypeText},
			{ID: "col_b", DisplayName: "Column B", Type: projects.ColumnTypeNumber},
		},
		MultiRowExtraction: multiRow,
		TOONOutput:         toonOutput,
	}
}

func TestParseResponse_JSON_MatchesByColumnID(t *testing.T) {
	content := `[{"column_id":"col_a","column_name":"wrong","value":"hello","image_index":0,"row_index":0}]`
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "col_a", results[0].ColumnID)
	assert.Equal(t, "Column A", results[0].ColumnName)
	assert.Equal(t, "hello", *results[0].Value)
}

func TestParseResponse_JSON_FallsBackToColumnName(t *testing.T) {
	content := `[{"column_id":"unknown_id","column_name":"Column B","value":"42","image_index":0}]`
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "col_b", results[0].ColumnID)
}

func TestParseResponse_JSON_DiscardsUnmatchedRecords(t *testing.T) {
	content := `[{"column_id":"nope","column_name":"also nope","value":"x","image_index":0}]`
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParseResponse_JSON_MissingRowIndexDefaultsToZero(t *testing.T) {
	content := `[{"column_id":"col_a","value":"x","image_index":0}]`
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].RowIndex)
	assert.Equal(t, 0, *results[0].RowIndex)
}

func TestParseResponse_JSON_SingleRowModeCollapsesRowIndex(t *testing.T) {
	content := `[{"column_id":"col_a","value":"x","image_index":0,"row_index":7}]`
	results, err := ParseResponse(testProject(false, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, *results[0].RowIndex)
}

func TestParseResponse_JSON_TolerantOfMarkdownFences(t *testing.T) {
	content := "```json\n[{\"column_id\":\"col_a\",\"value\":\"x\",\"image_index\":0}]\n```"
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestParseResponse_JSON_ClampsOutOfRangeBBox(t *testing.T) {
	content := `[{"column_id":"col_a","value":"x","image_index":0,"bbox_2d":[-5,1001,500,2000]}]`
	results, err := ParseResponse(testProject(true, false), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int{0, 1000, 500, 1000}, results[0].BBox2D)
}

func TestParseResponse_TOON_RoundTrip(t *testing.T) {
	content := "extractions[2]{column_id,column_name,value,image_index,row_index}:\n  col_a\tColumn A\thello\t0\t0\n  col_b\tColumn B\t42\t0\t0\n"
	results, err := ParseResponse(testProject(true, true), content)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "hello", *results[0].Value)
	assert.Equal(t, "42", *results[1].Value)
}

func TestParseResponse_TOON_ParsesBBoxAndConfidence(t *testing.T) {
	content := "extractions[1]{column_id,column_name,value,image_index,row_index,bbox_2d,confidence}:\n  col_a\tColumn A\thello\t0\t0\t[10,20,30,40]\t0.9\n"
	results, err := ParseResponse(testProject(true, true), content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int{10, 20, 30, 40}, results[0].BBox2D)
	require.NotNil(t, results[0].Confidence)
	assert.InDelta(t, 0.9, *results[0].Confidence, 0.0001)
}

func TestParseResponse_MalformedJSON_ReturnsParseError(t *testing.T) {
	_, err := ParseResponse(testProject(true, false), `not json`)
	require.Error(t, err)
}

func TestGroupIntoRows_DenseGapFreeIndices(t *testing.T) {
	row0 := 0
	row2 := 2
	results := []queue.ExtractionResult{
		{ColumnID: "col_a", RowIndex: &row0},
		{ColumnID: "col_a", RowIndex: &row2},
	}
	rows := GroupIntoRows(results)
	require.Len(t, rows, 3)
	assert.Equal(t, 0, rows[0].RowIndex)
	assert.Equal(t, 1, rows[1].RowIndex)
	assert.Empty(t, rows[1].RowData)
	assert.Equal(t, 2, rows[2].RowIndex)
}

func TestGroupIntoRows_DuplicateColumnLastWins(t *testing.T) {
	row0 := 0
	first := "first"
	second := "second"
	results := []queue.ExtractionResult{
		{ColumnID: "col_a", RowIndex: &row0, Value: &first},
		{ColumnID: "col_a", RowIndex: &row0, Value: &second},
	}
	rows := GroupIntoRows(results)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].RowData, 1)
	assert.Equal(t, "second", *rows[0].RowData[0].Value)
}

func TestGroupIntoRows_EmptyInputProducesOneEmptyRow(t *testing.T) {
	rows := GroupIntoRows(nil)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].RowData)
}

func TestStripMarkdownFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripMarkdownFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownFences(`{"a":1}`))
}

func TestParseBBoxString_Brackets(t *testing.T) {
	bbox, err := parseBBoxString("[1, 2, 3, 4]")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, bbox)
}
