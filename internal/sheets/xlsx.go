package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/raysh454/sheetcas/internal/a1"
	"github.com/raysh454/sheetcas/internal/logging"
)

// XLSXBackend serves spreadsheets stored as <root>/<spreadsheetID>.xlsx.
// Ranges without a sheet prefix address the first sheet of the workbook.
type XLSXBackend struct {
	root   string
	logger logging.Logger

	mu sync.Mutex
}

var (
	_ Backend      = (*XLSXBackend)(nil)
	_ FormatReader = (*XLSXBackend)(nil)
	_ AuditWriter  = (*XLSXBackend)(nil)
)

func newXLSXOpener(cfg Config, logger logging.Logger) (Opener, error) {
	b, err := NewXLSXBackend(cfg.Root, logger)
	if err != nil {
		return nil, err
	}
	// Local files carry no per-user authorization.
	return func(context.Context, string) (Backend, error) { return b, nil }, nil
}

// NewXLSXBackend serves workbooks under root, creating it if needed.
func NewXLSXBackend(root string, logger logging.Logger) (*XLSXBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("sheets: xlsx root directory is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create xlsx root: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &XLSXBackend{root: root, logger: logger}, nil
}

// Path returns the workbook file backing spreadsheetID.
func (x *XLSXBackend) Path(spreadsheetID string) string {
	return filepath.Join(x.root, filepath.Base(spreadsheetID)+".xlsx")
}

func (x *XLSXBackend) open(op, spreadsheetID string) (*excelize.File, error) {
	f, err := excelize.OpenFile(x.Path(spreadsheetID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FetchError{Op: op, Status: 404, Body: "spreadsheet " + spreadsheetID + " not found", Err: err}
		}
		return nil, &FetchError{Op: op, Err: err}
	}
	return f, nil
}

// openOrCreate opens the workbook for writing, creating an empty one when absent.
func (x *XLSXBackend) openOrCreate(op, spreadsheetID string) (*excelize.File, error) {
	f, err := excelize.OpenFile(x.Path(spreadsheetID))
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	return nil, &FetchError{Op: op, Err: err}
}

func (x *XLSXBackend) save(op, spreadsheetID string, f *excelize.File) error {
	if err := f.SaveAs(x.Path(spreadsheetID)); err != nil {
		return &FetchError{Op: op, Err: err}
	}
	return nil
}

func resolveRange(f *excelize.File, op, rangeA1 string) (string, a1.Range, error) {
	r, err := a1.Parse(rangeA1)
	if err != nil {
		return "", a1.Range{}, err
	}
	sheet := r.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return "", a1.Range{}, &FetchError{Op: op, Status: 400, Body: "unable to parse range: " + rangeA1}
	}
	return sheet, r, nil
}

// BatchGet reads each range cell by cell. Trailing blank cells and rows are
// omitted, the way the hosted API reports them.
func (x *XLSXBackend) BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([]ValueRange, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.open("batchGet", spreadsheetID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([]ValueRange, 0, len(ranges))
	for _, rangeA1 := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheet, r, err := resolveRange(f, "batchGet", rangeA1)
		if err != nil {
			return nil, err
		}
		values, err := readValues(f, sheet, r)
		if err != nil {
			return nil, &FetchError{Op: "batchGet", Err: err}
		}
		out = append(out, ValueRange{Range: a1.Format(r, sheet), Values: values})
	}
	return out, nil
}

// readValues only visits cells inside the sheet's used area, so a wide
// range over a small sheet costs what the sheet holds.
func readValues(f *excelize.File, sheet string, r a1.Range) ([][]any, error) {
	usedRows, usedCols, err := usedExtent(f, sheet)
	if err != nil {
		return nil, err
	}
	height := min(r.Height, usedRows-r.StartRow+1)
	width := min(r.Width, usedCols-r.StartCol+1)
	if height <= 0 || width <= 0 {
		return [][]any{}, nil
	}

	rows := make([][]any, 0, height)
	lastRow := -1
	for ro := 0; ro < height; ro++ {
		row := make([]any, 0, width)
		lastCol := -1
		for co := 0; co < width; co++ {
			v, err := readCell(f, sheet, r.Cell(ro, co))
			if err != nil {
				return nil, err
			}
			if v != nil {
				lastCol = co
			}
			row = append(row, v)
		}
		row = row[:lastCol+1]
		if len(row) > 0 {
			lastRow = ro
		}
		rows = append(rows, row)
	}
	return rows[:lastRow+1], nil
}

func usedExtent(f *excelize.File, sheet string) (rows, cols int, err error) {
	all, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, err
	}
	for _, row := range all {
		cols = max(cols, len(row))
	}
	return len(all), cols, nil
}

func readCell(f *excelize.File, sheet, cell string) (any, error) {
	raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return nil, err
	}
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula, excelize.CellTypeDate:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, nil
		}
	}
	return raw, nil
}

// WriteRange writes values starting at the top-left corner of rangeA1.
func (x *XLSXBackend) WriteRange(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.openOrCreate("update", spreadsheetID)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet, r, err := resolveRange(f, "update", rangeA1)
	if err != nil {
		return err
	}
	for ro, row := range values {
		for co, v := range row {
			if err := f.SetCellValue(sheet, r.Cell(ro, co), v); err != nil {
				return &FetchError{Op: "update", Err: err}
			}
		}
	}
	x.logger.Debug("wrote range", logging.Field{Key: "spreadsheet", Value: spreadsheetID}, logging.Field{Key: "range", Value: rangeA1})
	return x.save("update", spreadsheetID, f)
}

// ReadFormats reports each cell's style id. Unstyled cells read as "0".
func (x *XLSXBackend) ReadFormats(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.open("formats", spreadsheetID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([][][]string, 0, len(ranges))
	for _, rangeA1 := range ranges {
		sheet, r, err := resolveRange(f, "formats", rangeA1)
		if err != nil {
			return nil, err
		}
		grid := make([][]string, r.Height)
		for ro := range grid {
			grid[ro] = make([]string, r.Width)
			for co := range grid[ro] {
				style, err := f.GetCellStyle(sheet, r.Cell(ro, co))
				if err != nil {
					return nil, &FetchError{Op: "formats", Err: err}
				}
				grid[ro][co] = strconv.Itoa(style)
			}
		}
		out = append(out, grid)
	}
	return out, nil
}

// EnsureSheet adds a sheet titled title with header in row 1 when absent.
func (x *XLSXBackend) EnsureSheet(ctx context.Context, spreadsheetID, title string, header []any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.openOrCreate("addSheet", spreadsheetID)
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(title); err == nil && idx >= 0 {
		return nil
	}
	if _, err := f.NewSheet(title); err != nil {
		return &FetchError{Op: "addSheet", Err: err}
	}
	for c, v := range header {
		cell, err := excelize.CoordinatesToCellName(c+1, 1)
		if err != nil {
			return &FetchError{Op: "addSheet", Err: err}
		}
		if err := f.SetCellValue(title, cell, v); err != nil {
			return &FetchError{Op: "addSheet", Err: err}
		}
	}
	return x.save("addSheet", spreadsheetID, f)
}

// AppendRows writes rows below the last used row of the sheet named in
// rangeA1. Column-only ranges such as "Log!A:G" are accepted.
func (x *XLSXBackend) AppendRows(ctx context.Context, spreadsheetID, rangeA1 string, rows [][]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.openOrCreate("append", spreadsheetID)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet, cells := a1.SplitSheet(rangeA1)
	sheet = strings.Trim(sheet, "'")
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	startCol := a1.ColumnIndex(strings.TrimRight(strings.SplitN(cells, ":", 2)[0], "0123456789"))
	if startCol < 1 {
		startCol = 1
	}

	existing, err := f.GetRows(sheet)
	if err != nil {
		return &FetchError{Op: "append", Err: err}
	}
	next := len(existing) + 1
	for i, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(startCol+c, next+i)
			if err != nil {
				return &FetchError{Op: "append", Err: err}
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return &FetchError{Op: "append", Err: err}
			}
		}
	}
	return x.save("append", spreadsheetID, f)
}
