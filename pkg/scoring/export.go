package scoring

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// WriteCSV exports score rows as a dense numeric matrix, one CSV line
// per (class pair, order) row, prefixed by the pair and order. The
// undefined sentinel is spelled NaN so downstream consumers cannot
// mistake it for a zero statistic.
func WriteCSV(w io.Writer, rows []Row) error {
	if _, err := fmt.Fprintln(w, "class_a,class_b,order,values..."); err != nil {
		return errors.Wrap(err, "write score header")
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s,%s,%d", row.ClassA, row.ClassB, row.Order); err != nil {
			return errors.Wrap(err, "write score row")
		}
		for _, v := range row.T {
			var cell string
			if IsUndefined(v) {
				cell = "NaN"
			} else {
				cell = strconv.FormatFloat(v, 'g', -1, 64)
			}
			if _, err := fmt.Fprintf(w, ",%s", cell); err != nil {
				return errors.Wrap(err, "write score row")
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return errors.Wrap(err, "write score row")
		}
	}
	return nil
}
