package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tidwall/pretty"
	"github.com/xuri/excelize/v2"
)

// Table is a header plus rows of string, int64 or float64 cells.
// Snapshots, trends and transaction lists all implement it.
type Table interface {
	Header() []string
	Len() int
	Row(i int) []any
}

type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case JSON, CSV, XLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q, want json, csv or xlsx", s)
}

func Write(w io.Writer, t Table, f Format) error {
	switch f {
	case JSON:
		return WriteJSON(w, t)
	case CSV:
		return WriteCSV(w, t)
	case XLSX:
		return WriteXLSX(w, t, "Shareholding")
	}
	return fmt.Errorf("unknown format %q", f)
}

// Records turns t into one map per row keyed by column header.
func Records(t Table) []map[string]any {
	header := t.Header()
	out := make([]map[string]any, t.Len())
	for i := range out {
		row := t.Row(i)
		rec := make(map[string]any, len(header))
		for j, name := range header {
			rec[name] = row[j]
		}
		out[i] = rec
	}
	return out
}

func WriteJSON(w io.Writer, t Table) error {
	b, err := json.Marshal(Records(t))
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(b))
	return err
}

// DataFrame copies t into a gota data frame with one typed series per column.
func DataFrame(t Table) (dataframe.DataFrame, error) {
	header := t.Header()
	cols := make([]series.Series, len(header))
	for j, name := range header {
		cols[j] = column(t, j, name)
	}
	df := dataframe.New(cols...)
	return df, df.Err
}

func column(t Table, j int, name string) series.Series {
	n := t.Len()
	if n == 0 {
		return series.New([]string{}, series.String, name)
	}
	switch t.Row(0)[j].(type) {
	case int64:
		vals := make([]int, n)
		for i := range vals {
			vals[i] = int(t.Row(i)[j].(int64))
		}
		return series.New(vals, series.Int, name)
	case float64:
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = t.Row(i)[j].(float64)
		}
		return series.New(vals, series.Float, name)
	default:
		vals := make([]string, n)
		for i := range vals {
			vals[i] = fmt.Sprint(t.Row(i)[j])
		}
		return series.New(vals, series.String, name)
	}
}

func WriteCSV(w io.Writer, t Table) error {
	df, err := DataFrame(t)
	if err != nil {
		return err
	}
	return df.WriteCSV(w)
}

func WriteXLSX(w io.Writer, t Table, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := t.Header()
	hrow := make([]any, len(header))
	for j, h := range header {
		hrow[j] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &hrow); err != nil {
		return err
	}

	for i := 0; i < t.Len(); i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := t.Row(i)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}
