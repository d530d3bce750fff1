// Package export writes bar series out for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"tradechart/internal/model"
)

// Header is the first CSV row.
var Header = []string{"Date", "Open", "High", "Low", "Close"}

// Filename returns the download name for symbol's CSV.
func Filename(symbol string) string {
	return fmt.Sprintf("%s_data.csv", symbol)
}

// FormatDate prints a bar time as a plain date when it falls on UTC midnight,
// else as RFC 3339.
func FormatDate(t time.Time) string {
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// FormatPrice prints the shortest decimal that round-trips v.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes the header and one row per bar to w.
func WriteCSV(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, b := range bars {
		row := []string{
			FormatDate(b.Time),
			FormatPrice(b.Open),
			FormatPrice(b.High),
			FormatPrice(b.Low),
			FormatPrice(b.Close),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "writing csv record")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
