// Package stata reads Stata .dta files (releases 117, 118 and 119).
//
// Only the parts needed to rebuild survey features are decoded: variable names
// and labels, numeric and string cells, and value label tables. Stata's extended
// missing values (., .a through .z) all decode to a missing Value.
package stata

import (
	"fmt"
	"math"
	"strconv"
)

// Kind classifies a decoded cell.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindString
)

// Value is a single decoded cell.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Number returns a numeric Value.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Missing()
	}
	return Value{Kind: KindNumber, Num: f}
}

// String returns a string Value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Missing returns a missing Value.
func Missing() Value {
	return Value{Kind: KindMissing}
}

// IsMissing reports whether the cell holds no value.
func (v Value) IsMissing() bool {
	return v.Kind == KindMissing
}

// Int returns the value as an integer code when it is a whole number.
func (v Value) Int() (int, bool) {
	switch v.Kind {
	case KindNumber:
		if v.Num != math.Trunc(v.Num) || math.IsInf(v.Num, 0) {
			return 0, false
		}
		return int(v.Num), true
	case KindString:
		n, err := strconv.Atoi(v.Str)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Text formats the value the way it should appear as an identifier: whole
// numbers without a decimal part, strings verbatim.
func (v Value) Text() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, v.Str != ""
	case KindNumber:
		if n, ok := v.Int(); ok {
			return strconv.Itoa(n), true
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	}
	return "", false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	}
	return "."
}

// Variable describes one column of a .dta file.
type Variable struct {
	Name       string
	Label      string
	Format     string
	Type       uint16
	ValueLabel string // name of the value label table attached to the column
}

// Frame is an in-memory columnar table.
type Frame struct {
	names []string
	cols  map[string][]Value
	rows  int
}

// NewFrame builds a Frame from named columns. Every column must have the same length.
func NewFrame(names []string, cols map[string][]Value) (*Frame, error) {
	f := &Frame{names: names, cols: cols, rows: -1}
	for _, name := range names {
		col, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("column %q has no data", name)
		}
		if f.rows >= 0 && len(col) != f.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", name, len(col), f.rows)
		}
		f.rows = len(col)
	}
	if f.rows < 0 {
		f.rows = 0
	}
	return f, nil
}

// NumRows returns the number of observations.
func (f *Frame) NumRows() int {
	return f.rows
}

// Columns returns the column names in file order.
func (f *Frame) Columns() []string {
	return f.names
}

// Column returns the cells of the named column.
func (f *Frame) Column(name string) ([]Value, bool) {
	col, ok := f.cols[name]
	return col, ok
}

// File is a decoded .dta file.
type File struct {
	*Frame
	Release     int
	DataLabel   string
	Variables   []Variable
	ValueLabels map[string]map[int]string // value label table name -> code -> label
}

// Variable returns the metadata of the named column.
func (d *File) Variable(name string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// VariableValueLabels returns the value labels attached to the named column.
func (d *File) VariableValueLabels(name string) (map[int]string, bool) {
	v, ok := d.Variable(name)
	if !ok || v.ValueLabel == "" {
		return nil, false
	}
	labels, ok := d.ValueLabels[v.ValueLabel]
	return labels, ok
}
