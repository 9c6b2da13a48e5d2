// Package excel reads initial-stock spreadsheets.
package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
)

const (
	colSKU      = "sku"
	colQuantity = "quantity"
	colMinStock = "min_stock"
	colNotifyAt = "notify_at"
	colExpiry   = "expiry_date"
)

var headerAliases = map[string]string{
	"sku":           colSKU,
	"product sku":   colSKU,
	"code":          colSKU,
	"item code":     colSKU,
	"quantity":      colQuantity,
	"qty":           colQuantity,
	"stock":         colQuantity,
	"on hand":       colQuantity,
	"min stock":     colMinStock,
	"minimum stock": colMinStock,
	"reorder level": colMinStock,
	"notify at":     colNotifyAt,
	"alert at":      colNotifyAt,
	"alarm":         colNotifyAt,
	"expiry date":   colExpiry,
	"expiry":        colExpiry,
	"expires":       colExpiry,
	"best before":   colExpiry,
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01-02-06", "1-2-06", "01/02/2006", "1/2/2006", time.RFC3339}

// ParseInitialStock reads the first sheet of an xlsx workbook. The header row
// must name sku and quantity columns; min_stock, notify_at and expiry_date
// are optional. Rows with an empty sku are skipped. Malformed content is
// reported as a BadRequest naming the offending row.
func ParseInitialStock(r io.Reader) ([]domain.InitialStockLine, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, domain.BadRequest("file is not a readable xlsx workbook").WithField("file")
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.BadRequest("workbook has no sheets").WithField("file")
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, domain.BadRequest("sheet %s is empty", sheets[0]).WithField("file")
	}

	cols := mapColumns(rows[0])
	for _, required := range []string{colSKU, colQuantity} {
		if _, ok := cols[required]; !ok {
			return nil, domain.BadRequest("missing required column %s", required).WithDetail("column", required)
		}
	}

	lines := make([]domain.InitialStockLine, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		sku := strings.TrimSpace(readCell(cells, cols[colSKU]))
		if sku == "" {
			continue
		}
		rowErr := func(column string, err error) error {
			return domain.BadRequest("row %d: invalid %s: %v", index+1, column, err).
				WithDetail("row", index+1).
				WithDetail("column", column)
		}

		qty, err := parseInt(readCell(cells, cols[colQuantity]))
		if err != nil {
			return nil, rowErr(colQuantity, err)
		}
		line := domain.InitialStockLine{SKU: sku, Quantity: qty}

		if line.MinStock, err = optionalInt(cells, cols, colMinStock); err != nil {
			return nil, rowErr(colMinStock, err)
		}
		if line.NotifyAt, err = optionalInt(cells, cols, colNotifyAt); err != nil {
			return nil, rowErr(colNotifyAt, err)
		}
		if idx, ok := cols[colExpiry]; ok {
			if raw := strings.TrimSpace(readCell(cells, idx)); raw != "" {
				expiry, err := parseDate(raw)
				if err != nil {
					return nil, rowErr(colExpiry, err)
				}
				line.ExpiryDate = &expiry
			}
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, domain.BadRequest("sheet has no data rows").WithField("file")
	}
	return lines, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		canonical, ok := headerAliases[normalizeHeader(col)]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimPrefix(strings.TrimSpace(raw), "\ufeff")
	value = strings.ToLower(value)
	value = strings.NewReplacer("_", " ", "-", " ").Replace(value)
	return strings.Join(strings.Fields(value), " ")
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func optionalInt(cells []string, cols map[string]int, column string) (*int, error) {
	idx, ok := cols[column]
	if !ok {
		return nil, nil
	}
	raw := strings.TrimSpace(readCell(cells, idx))
	if raw == "" {
		return nil, nil
	}
	v, err := parseInt(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be a whole number")
	}
	if asFloat < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return int(asFloat), nil
}

// parseDate accepts ISO and common US layouts as well as raw Excel serial
// day numbers, which is what unformatted date cells come back as.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
