package stata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Type codes used by releases 117 and later.
const (
	typeStrL   = 32768
	typeDouble = 65526
	typeFloat  = 65527
	typeLong   = 65528
	typeInt    = 65529
	typeByte   = 65530
)

// Largest non-missing values per storage type.
const (
	maxByte = 100
	maxInt  = 32740
	maxLong = 2147483620
)

var (
	maxFloat  = math.Float32frombits(0x7effffff)
	maxDouble = math.Float64frombits(0x7fdfffffffffffff)
)

// Offsets in the <map> section.
const (
	mapVariableTypes   = 2
	mapVarnames        = 3
	mapFormats         = 5
	mapValueLabelNames = 6
	mapVariableLabels  = 7
	mapData            = 9
	mapStrls           = 10
	mapValueLabels     = 11
	mapEntries         = 14
)

var (
	ErrNotDTA             = errors.New("not a Stata .dta file")
	ErrUnsupportedRelease = errors.New("unsupported .dta release")
	ErrCorrupt            = errors.New("corrupt .dta file")
)

// layout holds the release dependent field widths.
type layout struct {
	nameLen     int
	formatLen   int
	varLabelLen int
}

func layoutFor(release int) (layout, error) {
	switch release {
	case 117:
		return layout{nameLen: 33, formatLen: 49, varLabelLen: 81}, nil
	case 118, 119:
		return layout{nameLen: 129, formatLen: 57, varLabelLen: 321}, nil
	}
	return layout{}, fmt.Errorf("%w: %d", ErrUnsupportedRelease, release)
}

type strlKey struct {
	v, o uint64
}

type parser struct {
	data    []byte
	pos     int
	order   binary.ByteOrder
	release int
	layout  layout
}

// Open reads and decodes the .dta file at path.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	slog.Debug("stata.Open: decoded file", "path", path, "release", f.Release, "variables", len(f.Variables), "rows", f.NumRows())
	return f, nil
}

// Parse decodes a complete .dta file held in memory.
func Parse(data []byte) (*File, error) {
	p := &parser{data: data}
	if !bytes.HasPrefix(data, []byte("<stata_dta>")) {
		return nil, ErrNotDTA
	}

	k, n, label, err := p.header()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	offsets, err := p.offsets()
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	types := make([]uint16, k)
	if err := p.section(offsets[mapVariableTypes], "<variable_types>"); err != nil {
		return nil, err
	}
	for i := range types {
		if types[i], err = p.u16(); err != nil {
			return nil, fmt.Errorf("variable types: %w", err)
		}
	}

	vars := make([]Variable, k)
	if err := p.fixedStrings(offsets[mapVarnames], "<varnames>", p.layout.nameLen, k, func(i int, s string) { vars[i].Name = s }); err != nil {
		return nil, err
	}
	if err := p.fixedStrings(offsets[mapFormats], "<formats>", p.layout.formatLen, k, func(i int, s string) { vars[i].Format = s }); err != nil {
		return nil, err
	}
	if err := p.fixedStrings(offsets[mapValueLabelNames], "<value_label_names>", p.layout.nameLen, k, func(i int, s string) { vars[i].ValueLabel = s }); err != nil {
		return nil, err
	}
	if err := p.fixedStrings(offsets[mapVariableLabels], "<variable_labels>", p.layout.varLabelLen, k, func(i int, s string) { vars[i].Label = s }); err != nil {
		return nil, err
	}
	for i := range vars {
		vars[i].Type = types[i]
	}

	strls, err := p.strls(offsets[mapStrls])
	if err != nil {
		return nil, fmt.Errorf("strls: %w", err)
	}

	cols, err := p.rows(offsets[mapData], offsets[mapStrls], vars, n, strls)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}

	valueLabels, err := p.valueLabels(offsets[mapValueLabels])
	if err != nil {
		return nil, fmt.Errorf("value labels: %w", err)
	}

	names := make([]string, k)
	for i, v := range vars {
		names[i] = v.Name
	}
	frame, err := NewFrame(names, cols)
	if err != nil {
		return nil, err
	}
	return &File{
		Frame:       frame,
		Release:     p.release,
		DataLabel:   label,
		Variables:   vars,
		ValueLabels: valueLabels,
	}, nil
}

func (p *parser) header() (k int, n int, label string, err error) {
	if err = p.expect("<stata_dta><header><release>"); err != nil {
		return
	}
	rel, err := p.take(3)
	if err != nil {
		return
	}
	p.release = int(rel[0]-'0')*100 + int(rel[1]-'0')*10 + int(rel[2]-'0')
	if p.layout, err = layoutFor(p.release); err != nil {
		return
	}
	if err = p.expect("</release><byteorder>"); err != nil {
		return
	}
	bo, err := p.take(3)
	if err != nil {
		return
	}
	switch string(bo) {
	case "LSF":
		p.order = binary.LittleEndian
	case "MSF":
		p.order = binary.BigEndian
	default:
		err = fmt.Errorf("unknown byte order %q", bo)
		return
	}
	if err = p.expect("</byteorder><K>"); err != nil {
		return
	}
	if p.release == 119 {
		var v uint32
		v, err = p.u32()
		k = int(v)
	} else {
		var v uint16
		v, err = p.u16()
		k = int(v)
	}
	if err != nil {
		return
	}
	if err = p.expect("</K><N>"); err != nil {
		return
	}
	if p.release == 117 {
		var v uint32
		v, err = p.u32()
		n = int(v)
	} else {
		var v uint64
		v, err = p.u64()
		if err == nil && v > uint64(len(p.data)) {
			err = fmt.Errorf("%w: observation count %d exceeds file size", ErrCorrupt, v)
			return
		}
		n = int(v)
	}
	if err != nil {
		return
	}
	if err = p.expect("</N><label>"); err != nil {
		return
	}
	var labelLen int
	if p.release == 117 {
		var v uint8
		v, err = p.u8()
		labelLen = int(v)
	} else {
		var v uint16
		v, err = p.u16()
		labelLen = int(v)
	}
	if err != nil {
		return
	}
	raw, err := p.take(labelLen)
	if err != nil {
		return
	}
	label = p.text(raw)
	if err = p.expect("</label><timestamp>"); err != nil {
		return
	}
	tsLen, err := p.u8()
	if err != nil {
		return
	}
	if _, err = p.take(int(tsLen)); err != nil {
		return
	}
	err = p.expect("</timestamp></header>")
	return
}

func (p *parser) offsets() ([]int, error) {
	if err := p.expect("<map>"); err != nil {
		return nil, err
	}
	out := make([]int, mapEntries)
	for i := range out {
		v, err := p.u64()
		if err != nil {
			return nil, err
		}
		if v > uint64(len(p.data)) {
			return nil, fmt.Errorf("offset %d (%d) beyond end of file", i, v)
		}
		out[i] = int(v)
	}
	return out, p.expect("</map>")
}

func (p *parser) section(offset int, tag string) error {
	p.pos = offset
	if err := p.expect(tag); err != nil {
		return fmt.Errorf("section %s: %w", tag, err)
	}
	return nil
}

func (p *parser) fixedStrings(offset int, tag string, width, count int, set func(int, string)) error {
	if err := p.section(offset, tag); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		raw, err := p.take(width)
		if err != nil {
			return fmt.Errorf("section %s: %w", tag, err)
		}
		set(i, p.text(raw))
	}
	return nil
}

func (p *parser) strls(offset int) (map[strlKey]string, error) {
	out := map[strlKey]string{}
	if err := p.section(offset, "<strls>"); err != nil {
		return nil, err
	}
	for {
		if p.peek("</strls>") {
			return out, nil
		}
		if err := p.expect("GSO"); err != nil {
			return nil, err
		}
		v, err := p.u32()
		if err != nil {
			return nil, err
		}
		var o uint64
		if p.release == 117 {
			var o32 uint32
			o32, err = p.u32()
			o = uint64(o32)
		} else {
			o, err = p.u64()
		}
		if err != nil {
			return nil, err
		}
		t, err := p.u8()
		if err != nil {
			return nil, err
		}
		length, err := p.u32()
		if err != nil {
			return nil, err
		}
		raw, err := p.take(int(length))
		if err != nil {
			return nil, err
		}
		if t == 130 {
			out[strlKey{uint64(v), o}] = p.text(raw)
		} else {
			out[strlKey{uint64(v), o}] = string(raw)
		}
	}
}

func width(t uint16) (int, error) {
	switch {
	case t >= 1 && t <= 2045:
		return int(t), nil
	case t == typeStrL, t == typeDouble:
		return 8, nil
	case t == typeFloat, t == typeLong:
		return 4, nil
	case t == typeInt:
		return 2, nil
	case t == typeByte:
		return 1, nil
	}
	return 0, fmt.Errorf("unknown variable type %d", t)
}

// rows decodes the data section, which must end before the strL section at end.
func (p *parser) rows(offset, end int, vars []Variable, n int, strls map[strlKey]string) (map[string][]Value, error) {
	if err := p.section(offset, "<data>"); err != nil {
		return nil, err
	}
	widths := make([]int, len(vars))
	rowWidth := 0
	for i, v := range vars {
		w, err := width(v.Type)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
		widths[i] = w
		rowWidth += w
	}
	if end <= p.pos || end > len(p.data) {
		end = len(p.data)
	}
	if n < 0 || (rowWidth > 0 && n > (end-p.pos)/rowWidth) {
		return nil, fmt.Errorf("%w: %d observations of %d bytes overrun the data section", ErrCorrupt, n, rowWidth)
	}

	cols := make(map[string][]Value, len(vars))
	for _, v := range vars {
		cols[v.Name] = make([]Value, n)
	}
	for row := 0; row < n; row++ {
		for i, v := range vars {
			raw, err := p.take(widths[i])
			if err != nil {
				return nil, fmt.Errorf("row %d variable %s: %w", row, v.Name, err)
			}
			cols[v.Name][row] = p.cell(v.Type, raw, strls)
		}
	}
	return cols, p.expect("</data>")
}

func (p *parser) cell(t uint16, raw []byte, strls map[strlKey]string) Value {
	switch t {
	case typeByte:
		v := int8(raw[0])
		if v > maxByte {
			return Missing()
		}
		return Number(float64(v))
	case typeInt:
		v := int16(p.order.Uint16(raw))
		if v > maxInt {
			return Missing()
		}
		return Number(float64(v))
	case typeLong:
		v := int32(p.order.Uint32(raw))
		if v > maxLong {
			return Missing()
		}
		return Number(float64(v))
	case typeFloat:
		v := math.Float32frombits(p.order.Uint32(raw))
		if v > maxFloat || v != v {
			return Missing()
		}
		return Number(float64(v))
	case typeDouble:
		v := math.Float64frombits(p.order.Uint64(raw))
		if v > maxDouble || math.IsNaN(v) {
			return Missing()
		}
		return Number(v)
	case typeStrL:
		key := p.strlRef(raw)
		if key.v == 0 && key.o == 0 {
			return String("")
		}
		return String(strls[key])
	}
	return String(p.text(raw))
}

func (p *parser) strlRef(raw []byte) strlKey {
	switch p.release {
	case 117:
		return strlKey{v: uint64(p.order.Uint32(raw[:4])), o: uint64(p.order.Uint32(raw[4:]))}
	case 119:
		z := p.order.Uint64(raw)
		return strlKey{v: z & 0xffffff, o: z >> 24}
	}
	z := p.order.Uint64(raw)
	return strlKey{v: z & 0xffff, o: z >> 16}
}

func (p *parser) valueLabels(offset int) (map[string]map[int]string, error) {
	out := map[string]map[int]string{}
	if err := p.section(offset, "<value_labels>"); err != nil {
		return nil, err
	}
	for p.peek("<lbl>") {
		p.pos += len("<lbl>")
		length, err := p.u32()
		if err != nil {
			return nil, err
		}
		rawName, err := p.take(p.layout.nameLen)
		if err != nil {
			return nil, err
		}
		name := p.text(rawName)
		if _, err := p.take(3); err != nil {
			return nil, err
		}
		table, err := p.take(int(length))
		if err != nil {
			return nil, err
		}
		labels, err := p.labelTable(table)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		out[name] = labels
		if err := p.expect("</lbl>"); err != nil {
			return nil, err
		}
	}
	return out, p.expect("</value_labels>")
}

func (p *parser) labelTable(table []byte) (map[int]string, error) {
	if len(table) < 8 {
		return nil, errors.New("truncated value label table")
	}
	n := int(p.order.Uint32(table[0:4]))
	txtLen := int(p.order.Uint32(table[4:8]))
	need := 8 + 8*n + txtLen
	if n < 0 || txtLen < 0 || need > len(table) {
		return nil, fmt.Errorf("value label table needs %d bytes, have %d", need, len(table))
	}
	offs := table[8 : 8+4*n]
	vals := table[8+4*n : 8+8*n]
	txt := table[8+8*n : need]

	out := make(map[int]string, n)
	for i := 0; i < n; i++ {
		off := int(p.order.Uint32(offs[4*i:]))
		val := int(int32(p.order.Uint32(vals[4*i:])))
		if off < 0 || off > len(txt) {
			return nil, fmt.Errorf("label offset %d out of range", off)
		}
		out[val] = p.text(txt[off:])
	}
	return out, nil
}

// text decodes a NUL terminated string. Release 117 files predate Stata's UTF-8
// support and are decoded as Windows-1252 when they are not valid UTF-8.
func (p *parser) text(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if p.release == 117 && !utf8.Valid(raw) {
		if s, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
			return string(s)
		}
	}
	return string(raw)
}

func (p *parser) peek(tag string) bool {
	return bytes.HasPrefix(p.data[p.pos:], []byte(tag))
}

func (p *parser) expect(tag string) error {
	if !p.peek(tag) {
		return fmt.Errorf("expected %q at offset %d", tag, p.pos)
	}
	p.pos += len(tag)
	return nil
}

func (p *parser) take(n int) ([]byte, error) {
	if n < 0 || p.pos+n > len(p.data) {
		return nil, fmt.Errorf("unexpected end of file at offset %d (need %d bytes)", p.pos, n)
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *parser) u8() (uint8, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *parser) u16() (uint16, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return p.order.Uint16(b), nil
}

func (p *parser) u32() (uint32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return p.order.Uint32(b), nil
}

func (p *parser) u64() (uint64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return p.order.Uint64(b), nil
}
