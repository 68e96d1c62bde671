package sink

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// DefaultSheetRange is the column span read from each sheet.
const DefaultSheetRange = "A:AZ"

// sheetAPI is the part of the Sheets API the table needs.
type sheetAPI interface {
	titles(ctx context.Context) ([]string, error)
	addSheet(ctx context.Context, title string) error
	get(ctx context.Context, rng string) ([][]string, error)
	put(ctx context.Context, rng string, rows [][]string) error
}

// SheetsConfig configures a Google Sheets table.
type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsFile string
	// Range is the A1 column span of each sheet, e.g. "A:AZ".
	Range string
}

// SheetsTable is a Table backed by one Google spreadsheet; each sheet name
// is a tab. Writes rewrite the tab from A1.
type SheetsTable struct {
	api   sheetAPI
	rng   string
	mu    sync.Mutex
	known map[string]bool
}

// NewSheetsTable connects to the spreadsheet using a service account file,
// or application default credentials when CredentialsFile is empty.
func NewSheetsTable(ctx context.Context, cfg SheetsConfig) (*SheetsTable, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.ValidationError("spreadsheet id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	return newSheetsTable(&sheetsService{svc: svc, id: cfg.SpreadsheetID}, cfg.Range), nil
}

func newSheetsTable(api sheetAPI, rng string) *SheetsTable {
	if rng == "" {
		rng = DefaultSheetRange
	}
	return &SheetsTable{api: api, rng: rng}
}

// Upsert implements Table.
func (t *SheetsTable) Upsert(ctx context.Context, sheet, rowKey, colKey, value string) error {
	return t.update(ctx, sheet, func(g *grid) { g.upsert(rowKey, colKey, value) })
}

// Append implements Table.
func (t *SheetsTable) Append(ctx context.Context, sheet string, values map[string]string) error {
	return t.update(ctx, sheet, func(g *grid) { g.append(values) })
}

func (t *SheetsTable) update(ctx context.Context, sheet string, fn func(*grid)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensure(ctx, sheet); err != nil {
		return err
	}

	rows, err := t.api.get(ctx, sheet+"!"+t.rng)
	if err != nil {
		return errors.TransportError("sheets", err)
	}
	g := newGrid(rows)
	fn(g)

	if err := t.api.put(ctx, sheet+"!A1", g.padded()); err != nil {
		return errors.TransportError("sheets", err)
	}
	return nil
}

func (t *SheetsTable) ensure(ctx context.Context, sheet string) error {
	if t.known == nil {
		titles, err := t.api.titles(ctx)
		if err != nil {
			return errors.TransportError("sheets", err)
		}
		t.known = make(map[string]bool, len(titles))
		for _, title := range titles {
			t.known[title] = true
		}
	}
	if t.known[sheet] {
		return nil
	}
	if err := t.api.addSheet(ctx, sheet); err != nil {
		return errors.TransportError("sheets", err)
	}
	t.known[sheet] = true
	return nil
}

// sheetsService adapts *sheets.Service to sheetAPI.
type sheetsService struct {
	svc *sheets.Service
	id  string
}

func (s *sheetsService) titles(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (s *sheetsService) addSheet(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		}},
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	return err
}

func (s *sheetsService) get(ctx context.Context, rng string) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		rows[i] = make([]string, len(r))
		for j, v := range r {
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows, nil
}

func (s *sheetsService) put(ctx context.Context, rng string, rows [][]string) error {
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = make([]interface{}, len(r))
		for j, v := range r {
			values[i][j] = v
		}
	}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}
