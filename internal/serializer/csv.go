package serializer

import (
	"encoding/csv"
	"io"

	"github.com/dshills/sheetload/pkg/types"
)

func writeCSV(w io.Writer, table *types.Table) ([]string, error) {
	columns := table.Columns.Names()

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return nil, err
	}

	record := make([]string, len(columns))
	for _, row := range table.Rows {
		for i, v := range row {
			record[i] = v.Text()
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}

	cw.Flush()
	return columns, cw.Error()
}
