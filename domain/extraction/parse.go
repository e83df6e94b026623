package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rowforge/extractqueue/domain/projects"
	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/pkg/apperror"
	"github.com/rowforge/extractqueue/pkg/toon"
)

// rawExtraction is the wire shape of one extraction record, common to both
// JSON and TOON encodings (§4.5 step 4).
type rawExtraction struct {
	ColumnID   string
	ColumnName string
	Value      *string
	ImageIndex int
	RowIndex   *int
	BBox2D     []int
	Confidence *float64
}

// ParseResponse parses an assistant message's content as JSON or TOON
// (chosen by the project's toon_output flag), tolerating surrounding
// markdown fences, and returns the extractions matched against the
// project's schema. Records matching neither column_id nor column_name are
// discarded (§4.5 step 4).
func ParseResponse(project *projects.Project, content string) ([]queue.ExtractionResult, error) {
	var raws []rawExtraction
	var err error
	if project.TOONOutput {
		raws, err = parseTOON(content)
	} else {
		raws, err = parseJSON(content)
	}
	if err != nil {
		return nil, apperror.ErrParse.WithInternal(err)
	}

	results := make([]queue.ExtractionResult, 0, len(raws))
	for _, r := range raws {
		col := project.ColumnByID(r.ColumnID)
		if col == nil {
			col = project.ColumnByName(r.ColumnName)
		}
		if col == nil {
			continue
		}

		rowIndex := 0
		if r.RowIndex != nil {
			rowIndex = *r.RowIndex
		}
		if !project.MultiRowExtraction {
			rowIndex = 0
		}

		results = append(results, queue.ExtractionResult{
			ColumnID:   col.ID,
			ColumnName: col.DisplayName,
			Value:      r.Value,
			ImageIndex: r.ImageIndex,
			BBox2D:     clampBBox(r.BBox2D),
			Confidence: r.Confidence,
			RowIndex:   &rowIndex,
		})
	}

	return results, nil
}

// clampBBox clamps bbox_2d coordinates into [0, 1000] rather than
// rejecting the record, per §4.5's tie-break rules.
func clampBBox(bbox []int) []int {
	if bbox == nil {
		return nil
	}
	clamped := make([]int, len(bbox))
	for i, v := range bbox {
		switch {
		case v < 0:
			clamped[i] = 0
		case v > 1000:
			clamped[i] = 1000
		default:
			clamped[i] = v
		}
	}
	return clamped
}

type jsonExtraction struct {
	ColumnID   string   `json:"column_id"`
	ColumnName string   `json:"column_name"`
	Value      *string  `json:"value"`
	ImageIndex int      `json:"image_index"`
	RowIndex   *int     `json:"row_index"`
	BBox2D     []int    `json:"bbox_2d"`
	Confidence *float64 `json:"confidence"`
}

func parseJSON(content string) ([]rawExtraction, error) {
	content = stripMarkdownFences(content)

	var records []jsonExtraction
	if err := json.Unmarshal([]byte(content), &records); err != nil {
		return nil, fmt.Errorf("unmarshal json extractions: %w", err)
	}

	raws := make([]rawExtraction, len(records))
	for i, r := range records {
		raws[i] = rawExtraction{
			ColumnID:   r.ColumnID,
			ColumnName: r.ColumnName,
			Value:      r.Value,
			ImageIndex: r.ImageIndex,
			RowIndex:   r.RowIndex,
			BBox2D:     r.BBox2D,
			Confidence: r.Confidence,
		}
	}
	return raws, nil
}

func parseTOON(content string) ([]rawExtraction, error) {
	rows, err := toon.Decode(content)
	if err != nil {
		return nil, err
	}

	raws := make([]rawExtraction, len(rows))
	for i, row := range rows {
		r := rawExtraction{}
		if v := row["column_id"]; v != nil {
			r.ColumnID = *v
		}
		if v := row["column_name"]; v != nil {
			r.ColumnName = *v
		}
		r.Value = row["value"]
		if v := row["image_index"]; v != nil {
			n, _ := strconv.Atoi(*v)
			r.ImageIndex = n
		}
		if v := row["row_index"]; v != nil {
			n, err := strconv.Atoi(*v)
			if err != nil {
				return nil, fmt.Errorf("toon row_index: %w", err)
			}
			r.RowIndex = &n
		}
		if v := row["bbox_2d"]; v != nil {
			bbox, err := parseBBoxString(*v)
			if err != nil {
				return nil, err
			}
			r.BBox2D = bbox
		}
		if v := row["confidence"]; v != nil {
			f, err := strconv.ParseFloat(*v, 64)
			if err != nil {
				return nil, fmt.Errorf("toon confidence: %w", err)
			}
			r.Confidence = &f
		}
		raws[i] = r
	}
	return raws, nil
}

// parseBBoxString parses a "[x1,y1,x2,y2]" or "x1,y1,x2,y2" TOON cell.
func parseBBoxString(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	parts := strings.Split(s, ",")
	bbox := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("toon bbox_2d component %q: %w", p, err)
		}
		bbox[i] = n
	}
	return bbox, nil
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// GroupIntoRows partitions extraction results by row_index into dense,
// gap-free rows 0..R-1, per §4.5 step 5. Duplicate (row_index, column_id)
// pairs keep the last occurrence. Rows with no records are still created,
// empty, to preserve dense indices. For single-row mode R is always 1:
// callers must already have collapsed row_index to 0 via ParseResponse.
func GroupIntoRows(results []queue.ExtractionResult) []queue.Row {
	maxIndex := -1
	for _, r := range results {
		idx := 0
		if r.RowIndex != nil {
			idx = *r.RowIndex
		}
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	rowCount := maxIndex + 1
	if rowCount < 1 {
		rowCount = 1
	}

	// last-one-wins per (row_index, column_id): a map preserves insertion
	// order of first sight but overwrites the value on repeat, then we
	// flatten back out per row in column encounter order.
	type key struct {
		row int
		col string
	}
	byKey := make(map[key]queue.ExtractionResult, len(results))
	order := make(map[int][]string) // row -> column keys in first-seen order
	for _, r := range results {
		idx := 0
		if r.RowIndex != nil {
			idx = *r.RowIndex
		}
		k := key{row: idx, col: r.ColumnID}
		if _, seen := byKey[k]; !seen {
			order[idx] = append(order[idx], r.ColumnID)
		}
		byKey[k] = r
	}

	rows := make([]queue.Row, rowCount)
	for i := 0; i < rowCount; i++ {
		rowData := make([]queue.ExtractionResult, 0, len(order[i]))
		for _, col := range order[i] {
			rowData = append(rowData, byKey[key{row: i, col: col}])
		}
		rows[i] = queue.Row{
			RowIndex: i,
			RowData:  rowData,
			Status:   queue.RowStatusReview,
		}
	}
	return rows
}
