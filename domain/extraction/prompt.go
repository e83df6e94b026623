// Package extraction implements the Extraction Pipeline (§4.5) and Redo
// Pipeline (§4.6): prompt assembly, vision message assembly, the LLM call,
// JSON/TOON response parsing, and row materialization.
package extraction

import (
	"fmt"
	"strings"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/pkg/toon"
)

const corePreamble = `You are a precise document extraction engine. You will be shown one or more images (pages of a document, or receipts/statements/invoices) and must extract structured tabular data according to the schema below. Extract only what is visible; do not invent values. Use null for fields you cannot determine.`

// BuildPrompt assembles the full prompt for a batch extraction job, per
// §4.5 step 1: preamble, schema, feature-flag rule blocks, output example.
func BuildPrompt(project *projects.Project) string {
	var b strings.Builder

	b.WriteString(corePreamble)
	b.WriteString("\n\n")
	b.WriteString(renderSchema(project.Columns))

	if project.MultiRowExtraction {
		b.WriteString("\n")
		b.WriteString(multiRowRules)
	} else {
		b.WriteString("\n")
		b.WriteString(singleRowRules)
	}

	if project.BoundingBoxes {
		b.WriteString("\n")
		b.WriteString(boundingBoxRules(project.CoordinateFormat))
	}

	if project.ConfidenceScores {
		b.WriteString("\n")
		b.WriteString(confidenceRules)
	}

	b.WriteString("\n")
	b.WriteString(outputFormatExample(project))

	return b.String()
}

// BuildRedoPrompt assembles the prompt for a process_redo job, per §4.6
// step 2: only the redo columns are enumerated, the row's other fields are
// included read-only for context, and the expected output is pinned to
// exactly len(redoColumnIDs) extractions at rowIndex.
func BuildRedoPrompt(project *projects.Project, row *queue.Row, redoColumnIDs []string) string {
	var b strings.Builder

	b.WriteString(corePreamble)
	b.WriteString("\n\nYou are re-extracting a specific subset of fields for one row that has already been extracted. The other fields of this row are provided below for context only; do not re-derive them.\n\n")

	b.WriteString(renderSchemaSubset(project.Columns, redoColumnIDs))

	b.WriteString("\nContext (existing, read-only) values for this row:\n")
	for _, res := range row.RowData {
		if containsString(redoColumnIDs, res.ColumnID) {
			continue
		}
		val := "null"
		if res.Value != nil {
			val = *res.Value
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", res.ColumnName, res.ColumnID, val)
	}

	if project.BoundingBoxes {
		b.WriteString("\n")
		b.WriteString(boundingBoxRules(project.CoordinateFormat))
	}
	if project.ConfidenceScores {
		b.WriteString("\n")
		b.WriteString(confidenceRules)
	}

	fmt.Fprintf(&b, "\nProduce exactly %d extraction(s), all with row_index = %d, one per requested column, in the column order given above.\n\n", len(redoColumnIDs), row.RowIndex)
	b.WriteString(outputFormatExample(project))

	return b.String()
}

func renderSchema(columns []projects.ColumnDefinition) string {
	var b strings.Builder
	b.WriteString("Columns to extract, in order:\n")
	for _, c := range columns {
		fmt.Fprintf(&b, "- id=%s name=%q type=%s", c.ID, c.DisplayName, c.Type)
		if c.Description != "" {
			fmt.Fprintf(&b, " description=%q", c.Description)
		}
		if len(c.AllowedValues) > 0 {
			fmt.Fprintf(&b, " allowed_values=%s", strings.Join(c.AllowedValues, "|"))
		}
		if c.ValidationExpr != "" {
			fmt.Fprintf(&b, " pattern=%s", c.ValidationExpr)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderSchemaSubset(columns []projects.ColumnDefinition, ids []string) string {
	var subset []projects.ColumnDefinition
	for _, id := range ids {
		for _, c := range columns {
			if c.ID == id {
				subset = append(subset, c)
				break
			}
		}
	}
	return renderSchema(subset)
}

const singleRowRules = "This document contains exactly one logical item: emit extractions with row_index = 0 only.\n"

const multiRowRules = "This document may contain multiple logical items (e.g. one row per transaction, receipt, or line item). Assign each extraction a row_index starting at 0 and increasing for each distinct item, in the order the items appear. Every column should be emitted for every row you identify.\n"

const confidenceRules = "For each extraction, include a confidence score between 0.0 and 1.0 reflecting how certain you are the value is correct.\n"

func boundingBoxRules(format projects.CoordinateFormat) string {
	order := "[x1, y1, x2, y2] (top-left x, top-left y, bottom-right x, bottom-right y)"
	if format == projects.CoordinateFormatYXYX {
		order = "[y_min, x_min, y_max, x_max]"
	}
	return fmt.Sprintf("For each extraction, include a bbox_2d: four integers in [0, 1000], normalized independently for x and y regardless of image aspect ratio, in the order %s.\n", order)
}

// outputFormatExample renders the output-format instructions whose shape
// must exactly match what ParseResponse (parse.go) accepts, per §4.5 step
// 1's requirement and the two wire formats named in §6.
func outputFormatExample(project *projects.Project) string {
	if project.TOONOutput {
		fields := []string{"column_id", "column_name", "value", "image_index", "row_index"}
		if project.BoundingBoxes {
			fields = append(fields, "bbox_2d")
		}
		if project.ConfidenceScores {
			fields = append(fields, "confidence")
		}
		example := toon.Encode(fields, []map[string]*string{
			sampleExtractionValues(fields, "column_a", "Column A", "example value"),
		})
		return "Respond with ONLY a TOON document (no markdown fences, no prose) in exactly this shape:\n\n" + example
	}

	return `Respond with ONLY a JSON array (no markdown fences, no prose) of extraction objects, each shaped exactly like:
{"column_id": "column_a", "column_name": "Column A", "value": "example value", "image_index": 0, "row_index": 0}
`
}

func sampleExtractionValues(fields []string, columnID, columnName, value string) map[string]*string {
	row := make(map[string]*string, len(fields))
	for _, f := range fields {
		switch f {
		case "column_id":
			row[f] = &columnID
		case "column_name":
			row[f] = &columnName
		case "value":
			row[f] = &value
		default:
			zero := "0"
			row[f] = &zero
		}
	}
	return row
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
