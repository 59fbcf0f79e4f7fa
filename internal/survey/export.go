package survey

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	surveyrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/repo"
)

const exportSheet = "health_data"

// Export writes every stored record to w as an xlsx workbook and returns the
// number of data rows.
func Export(ctx context.Context, r *surveyrepo.RecordRepo, w io.Writer) (int, error) {
	records, err := r.List(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, err
	}

	header := append([]any{"id"}, toAny(surveyrepo.Columns)...)
	header = append(header, "prediction", "created_at")
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return 0, err
	}

	for i, rec := range records {
		row := []any{rec.ID}
		for _, v := range rec.Features() {
			row = append(row, v)
		}
		if rec.Prediction != nil {
			row = append(row, *rec.Prediction)
		} else {
			row = append(row, "")
		}
		row = append(row, rec.CreatedAt.UTC().Format(time.RFC3339))

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return 0, err
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return len(records), nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
