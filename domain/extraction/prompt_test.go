package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
)

func TestBuildPrompt_IncludesSchemaColumns(t *testing.T) {
	p := testProject(true, false)
	prompt := BuildPrompt(p)
	assert.Contains(t, prompt, "id=col_a")
	assert.Contains(t, prompt, "id=col_b")
}

func TestBuildPrompt_MultiRowVsSingleRowRules(t *testing.T) {
	multi := BuildPrompt(testProject(true, false))
	assert.Contains(t, multi, "multiple logical items")
	assert.NotContains(t, multi, "exactly one logical item")

	single := BuildPrompt(testProject(false, false))
	assert.Contains(t, single, "exactly one logical item")
	assert.NotContains(t, single, "multiple logical items")
}

func TestBuildPrompt_BoundingBoxRulesOnlyWhenEnabled(t *testing.T) {
	p := testProject(true, false)
	assert.NotContains(t, BuildPrompt(p), "bbox_2d")

	p.BoundingBoxes = true
	assert.Contains(t, BuildPrompt(p), "bbox_2d")
}

func TestBuildPrompt_ConfidenceRulesOnlyWhenEnabled(t *testing.T) {
	p := testProject(true, false)
	assert.NotContains(t, BuildPrompt(p), "confidence score")

	p.ConfidenceScores = true
	assert.Contains(t, BuildPrompt(p), "confidence score")
}

func TestBuildPrompt_OutputExampleMatchesWireFormat(t *testing.T) {
	json := BuildPrompt(testProject(true, false))
	assert.Contains(t, json, "JSON array")
	assert.NotContains(t, json, "TOON document")

	toon := BuildPrompt(testProject(true, true))
	assert.Contains(t, toon, "TOON document")
	assert.NotContains(t, toon, "JSON array")
}

func TestBuildPrompt_YXYXCoordinateOrder(t *testing.T) {
	p := testProject(true, false)
	p.BoundingBoxes = true
	p.CoordinateFormat = projects.CoordinateFormatYXYX
	assert.Contains(t, BuildPrompt(p), "[y_min, x_min, y_max, x_max]")
}

func TestBuildRedoPrompt_OnlyEnumeratesRequestedColumns(t *testing.T) {
	p := testProject(true, false)
	val := "existing value"
	row := &queue.Row{
		RowIndex: 2,
		RowData: []queue.ExtractionResult{
			{ColumnID: "col_a", ColumnName: "Column A", Value: &val},
			{ColumnID: "col_b", ColumnName: "Column B", Value: nil},
		},
	}

	prompt := BuildRedoPrompt(p, row, []string{"col_b"})

	assert.Contains(t, prompt, "id=col_b")
	assert.NotContains(t, prompt, "id=col_a")
	assert.Contains(t, prompt, "Column A")
	assert.Contains(t, prompt, "existing value")
	assert.Contains(t, prompt, "Produce exactly 1 extraction(s), all with row_index = 2")
}

func TestBuildRedoPrompt_NilValueRendersAsNull(t *testing.T) {
	p := testProject(true, false)
	row := &queue.Row{
		RowIndex: 0,
		RowData: []queue.ExtractionResult{
			{ColumnID: "col_a", ColumnName: "Column A", Value: nil},
		},
	}
	prompt := BuildRedoPrompt(p, row, []string{"col_b"})
	assert.True(t, strings.Contains(prompt, "Column A (col_a): null"))
}
