package invoice

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteCSV renders records in the export layout the ledger import expects:
// one row per record, dates in ISO form, amounts with two decimals.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "supplier", "amount", "currency", "subject", "source"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range recs {
		row := []string{
			r.Date.Format("2006-01-02"),
			r.Supplier,
			strconv.FormatFloat(r.Amount, 'f', 2, 64),
			r.Currency,
			r.Subject,
			r.Source,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
