package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/raysh454/sheetcas/internal/logging"
)

// ErrNoCredential is returned when a Google backend is opened without an access token.
var ErrNoCredential = errors.New("sheets: empty access credential")

// GoogleBackend talks to the Google Sheets v4 API on behalf of one credential.
type GoogleBackend struct {
	svc     *sheetsapi.Service
	limiter *rate.Limiter
	logger  logging.Logger
}

var (
	_ Backend      = (*GoogleBackend)(nil)
	_ FormatReader = (*GoogleBackend)(nil)
	_ AuditWriter  = (*GoogleBackend)(nil)
	_ GridEnsurer  = (*GoogleBackend)(nil)
)

func newGoogleOpener(cfg Config, logger logging.Logger) (Opener, error) {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, max(cfg.Burst, 1))

	return func(ctx context.Context, credential string) (Backend, error) {
		return NewGoogleBackend(ctx, credential, GoogleOptions{
			Endpoint:   cfg.Endpoint,
			HTTPClient: cfg.HTTPClient,
			Limiter:    limiter,
		}, logger)
	}, nil
}

// GoogleOptions tunes NewGoogleBackend. All fields are optional.
type GoogleOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewGoogleBackend builds a client that sends credential as a bearer token.
func NewGoogleBackend(ctx context.Context, credential string, opts GoogleOptions, logger logging.Logger) (*GoogleBackend, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrNoCredential
	}
	if logger == nil {
		logger = logging.Nop()
	}

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"})
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)

	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, &FetchError{Op: "init", Err: err}
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &GoogleBackend{svc: svc, limiter: limiter, logger: logger}, nil
}

func (g *GoogleBackend) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &FetchError{Op: op, Err: err}
	}
	return nil
}

// BatchGet reads all ranges in one values:batchGet call.
func (g *GoogleBackend) BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([]ValueRange, error) {
	if err := g.wait(ctx, "batchGet"); err != nil {
		return nil, err
	}
	resp, err := g.svc.Spreadsheets.Values.BatchGet(spreadsheetID).
		Ranges(ranges...).
		MajorDimension("ROWS").
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fetchErr("batchGet", err)
	}

	out := make([]ValueRange, 0, len(resp.ValueRanges))
	for _, vr := range resp.ValueRanges {
		if vr == nil {
			out = append(out, ValueRange{})
			continue
		}
		out = append(out, ValueRange{Range: vr.Range, Values: vr.Values})
	}
	g.logger.Debug("batchGet", logging.Field{Key: "spreadsheet", Value: spreadsheetID}, logging.Field{Key: "ranges", Value: len(ranges)})
	return out, nil
}

// WriteRange overwrites rangeA1 with values using RAW input.
func (g *GoogleBackend) WriteRange(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) error {
	if err := g.wait(ctx, "update"); err != nil {
		return err
	}
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rangeA1, &sheetsapi.ValueRange{
		Range:          rangeA1,
		MajorDimension: "ROWS",
		Values:         values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fetchErr("update", err)
	}
	return nil
}

// ReadFormats returns each cell's userEnteredFormat as canonical JSON. Cells
// without explicit formatting yield "".
func (g *GoogleBackend) ReadFormats(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	out := make([][][]string, len(ranges))
	for i, r := range ranges {
		if err := g.wait(ctx, "formats"); err != nil {
			return nil, err
		}
		resp, err := g.svc.Spreadsheets.Get(spreadsheetID).
			Ranges(r).
			IncludeGridData(true).
			Fields("sheets(data(rowData(values(userEnteredFormat))))").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fetchErr("formats", err)
		}
		var rows [][]string
		for _, sh := range resp.Sheets {
			for _, grid := range sh.Data {
				for _, rd := range grid.RowData {
					row := make([]string, len(rd.Values))
					for c, cell := range rd.Values {
						if cell == nil || cell.UserEnteredFormat == nil {
							continue
						}
						b, err := json.Marshal(cell.UserEnteredFormat)
						if err != nil {
							return nil, &FetchError{Op: "formats", Err: err}
						}
						row[c] = string(b)
					}
					rows = append(rows, row)
				}
			}
		}
		out[i] = rows
	}
	return out, nil
}

// EnsureSheet creates a sheet titled title with a header row when absent.
func (g *GoogleBackend) EnsureSheet(ctx context.Context, spreadsheetID, title string, header []any) error {
	if err := g.wait(ctx, "getSheets"); err != nil {
		return err
	}
	meta, err := g.svc.Spreadsheets.Get(spreadsheetID).
		Fields(googleapi.Field("sheets(properties(title))")).
		Context(ctx).
		Do()
	if err != nil {
		return fetchErr("getSheets", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	if err := g.wait(ctx, "addSheet"); err != nil {
		return err
	}
	_, err = g.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		// A concurrent writer may have created it first.
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fetchErr("addSheet", err)
	}

	if len(header) == 0 {
		return nil
	}
	return g.WriteRange(ctx, spreadsheetID, title+"!A1", [][]any{header})
}

// EnsureColumns inserts columns at the right edge of sheetName until it has
// at least lastCol of them. An empty sheetName means the first sheet.
func (g *GoogleBackend) EnsureColumns(ctx context.Context, spreadsheetID, sheetName string, lastCol int) error {
	if err := g.wait(ctx, "getGrid"); err != nil {
		return err
	}
	meta, err := g.svc.Spreadsheets.Get(spreadsheetID).
		Fields(googleapi.Field("sheets(properties(sheetId,title,gridProperties(columnCount)))")).
		Context(ctx).
		Do()
	if err != nil {
		return fetchErr("getGrid", err)
	}

	var props *sheetsapi.SheetProperties
	for _, sh := range meta.Sheets {
		if sh.Properties == nil {
			continue
		}
		if sheetName == "" || sh.Properties.Title == sheetName {
			props = sh.Properties
			break
		}
	}
	if props == nil {
		return &FetchError{Op: "getGrid", Status: http.StatusBadRequest, Body: "sheet not found: " + sheetName}
	}
	var have int64
	if props.GridProperties != nil {
		have = props.GridProperties.ColumnCount
	}
	if int64(lastCol) <= have {
		return nil
	}

	if err := g.wait(ctx, "insertColumns"); err != nil {
		return err
	}
	_, err = g.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			InsertDimension: &sheetsapi.InsertDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:         props.SheetId,
					Dimension:       "COLUMNS",
					StartIndex:      have,
					EndIndex:        int64(lastCol),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
				InheritFromBefore: have > 0,
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fetchErr("insertColumns", err)
	}
	g.logger.Info("inserted columns",
		logging.Field{Key: "spreadsheet", Value: spreadsheetID},
		logging.Field{Key: "sheet", Value: props.Title},
		logging.Field{Key: "count", Value: int64(lastCol) - have})
	return nil
}

// AppendRows appends rows after the last non-empty row of rangeA1.
func (g *GoogleBackend) AppendRows(ctx context.Context, spreadsheetID, rangeA1 string, rows [][]any) error {
	if err := g.wait(ctx, "append"); err != nil {
		return err
	}
	_, err := g.svc.Spreadsheets.Values.Append(spreadsheetID, rangeA1, &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fetchErr("append", err)
	}
	return nil
}

func fetchErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &FetchError{Op: op, Status: gerr.Code, Body: gerr.Body, Err: err}
	}
	return &FetchError{Op: op, Err: err}
}
