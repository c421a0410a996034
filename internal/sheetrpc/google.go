package sheetrpc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Google is the Sheets-API-backed Client.
type Google struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// NewGoogle creates a Client for one spreadsheet. credentialsJSON is a
// service-account key; nil falls back to application default credentials.
func NewGoogle(ctx context.Context, spreadsheetID string, credentialsJSON []byte, logger *slog.Logger) (*Google, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheetrpc: spreadsheet id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheetrpc: sheets service: %w", err)
	}
	return &Google{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// TabIDs maps tab names to sheet ids.
func (g *Google) TabIDs(ctx context.Context) (map[string]int64, error) {
	var meta *sheets.Spreadsheet
	err := withRetry(ctx, g.logger, "tabIDs", func() error {
		var err error
		meta, err = g.svc.Spreadsheets.Get(g.spreadsheetID).
			Fields("sheets.properties.sheetId", "sheets.properties.title").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sheetrpc: get metadata: %w", err)
	}
	out := make(map[string]int64, len(meta.Sheets))
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			out[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	return out, nil
}

// ReadRange fetches an A1 range as strings.
func (g *Google) ReadRange(ctx context.Context, a1 string) ([][]string, error) {
	var resp *sheets.ValueRange
	err := withRetry(ctx, g.logger, "readRange", func() error {
		var err error
		resp, err = g.svc.Spreadsheets.Values.Get(g.spreadsheetID, a1).
			ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sheetrpc: read %s: %w", a1, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellString(v)
		}
		out[i] = cells
	}
	return out, nil
}

// cellString renders one unformatted cell value as text. Numbers come off the
// wire as float64 and must render in plain notation: fmt.Sprint would turn a
// ten-digit phone cell into scientific notation and the normalizer would
// reject it.
func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		if c {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(c)
	}
}

// UpdateRange overwrites an A1 range with raw values.
func (g *Google) UpdateRange(ctx context.Context, a1 string, values [][]string) error {
	vr := &sheets.ValueRange{Values: toAny(values)}
	err := withRetry(ctx, g.logger, "updateRange", func() error {
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, a1, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheetrpc: update %s: %w", a1, err)
	}
	return nil
}

// BatchUpdate applies several range updates in one values.batchUpdate call.
func (g *Google) BatchUpdate(ctx context.Context, data []RangeValues) error {
	if len(data) == 0 {
		return nil
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, d := range data {
		req.Data = append(req.Data, &sheets.ValueRange{Range: d.Range, Values: toAny(d.Values)})
	}
	err := withRetry(ctx, g.logger, "batchUpdate", func() error {
		_, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheetrpc: batch update: %w", err)
	}
	return nil
}

// AppendRows appends raw rows with insert-rows semantics.
func (g *Google) AppendRows(ctx context.Context, a1 string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheets.ValueRange{Values: toAny(rows)}
	err := withRetry(ctx, g.logger, "appendRows", func() error {
		_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, a1, vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheetrpc: append %s: %w", a1, err)
	}
	return nil
}

// SetRowsHidden flips hiddenByUser on each listed row in one batchUpdate.
func (g *Google) SetRowsHidden(ctx context.Context, rows []RowVisibility, hidden bool) error {
	if len(rows) == 0 {
		return nil
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{}
	for _, r := range rows {
		props := &sheets.DimensionProperties{HiddenByUser: hidden}
		if !hidden {
			// False is a zero value; force it onto the wire or the API
			// treats the field as unset.
			props.ForceSendFields = append(props.ForceSendFields, "HiddenByUser")
		}
		req.Requests = append(req.Requests, &sheets.Request{
			UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
				Range: &sheets.DimensionRange{
					SheetId:    r.TabID,
					Dimension:  "ROWS",
					StartIndex: r.Row - 1,
					EndIndex:   r.Row,
				},
				Properties: props,
				Fields:     "hiddenByUser",
			},
		})
	}
	err := withRetry(ctx, g.logger, "setRowsHidden", func() error {
		_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheetrpc: row visibility: %w", err)
	}
	return nil
}

func toAny(values [][]string) [][]any {
	out := make([][]any, len(values))
	for i, row := range values {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
