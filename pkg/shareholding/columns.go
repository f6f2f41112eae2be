package shareholding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Column int

const (
	ParticipantID Column = iota
	ParticipantName
	Shareholding
	ShareholdingPct
)

// DateHeader is the name of the column every table starts with.
const DateHeader = "Date"

// AllColumns is the default column set, in source order.
var AllColumns = []Column{ParticipantID, ParticipantName, Shareholding, ShareholdingPct}

type Kind int

const (
	KindString Kind = iota
	KindInt64
	KindFloat64
)

// columnDef says where a column lives in the result markup and how its text
// becomes a typed value.
type columnDef struct {
	name      string
	selector  string
	normalize func(string) (string, error)
	kind      Kind
}

var columnDefs = map[Column]columnDef{
	ParticipantID: {
		name:      "Participant ID",
		selector:  "td.col-participant-id",
		normalize: identity,
		kind:      KindString,
	},
	ParticipantName: {
		name:      "Participant Name",
		selector:  "td.col-participant-name",
		normalize: identity,
		kind:      KindString,
	},
	Shareholding: {
		name:      "Shareholding",
		selector:  "td.col-shareholding.text-right",
		normalize: stripThousands,
		kind:      KindInt64,
	},
	ShareholdingPct: {
		name:      "Shareholding Percent",
		selector:  "td.col-shareholding-percent.text-right",
		normalize: percentText,
		kind:      KindFloat64,
	},
}

// cellBodySelector is the child of every data cell that carries its text.
const cellBodySelector = "div.mobile-list-body"

func (c Column) String() string {
	if def, ok := columnDefs[c]; ok {
		return def.name
	}
	return fmt.Sprintf("Column(%d)", int(c))
}

func (c Column) Kind() Kind {
	return columnDefs[c].kind
}

func (c Column) valid() bool {
	_, ok := columnDefs[c]
	return ok
}

// ParseColumn accepts a column header such as "Participant ID".
func ParseColumn(name string) (Column, error) {
	for _, c := range AllColumns {
		if strings.EqualFold(columnDefs[c].name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown column %q", name)
}

func identity(v string) (string, error) {
	return v, nil
}

func stripThousands(v string) (string, error) {
	return strings.ReplaceAll(v, ",", ""), nil
}

// percentText turns "5.50%" into "0.055".
func percentText(v string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(v, "%", "")))
	if err != nil {
		return "", err
	}
	return d.Div(decimal.NewFromInt(100)).String(), nil
}

// value is a cell after normalization and cast.
type value struct {
	str string
	i   int64
	f   float64
}

func cast(kind Kind, v string) (value, error) {
	switch kind {
	case KindInt64:
		i, err := strconv.ParseInt(v, 10, 64)
		return value{i: i}, err
	case KindFloat64:
		f, err := strconv.ParseFloat(v, 64)
		return value{f: f}, err
	default:
		return value{str: v}, nil
	}
}

// PercentToFraction converts a user facing percentage, 1 meaning 1%, into the
// fraction the reconciliations compare against.
func PercentToFraction(pct float64) float64 {
	f, _ := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)).Float64()
	return f
}
