// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package columnar converts materialized rowsets into Apache Arrow IPC stream
// payloads for visualization clients, and decodes them back.
//
// Column types are inferred from the values actually returned, with the
// store's declared type as a fallback for empty or all-null columns. Integers
// mixed with floats widen to float64; other mixes of scalar types fall back to
// strings, which is common with dynamically typed stores. Values of any other
// Go type fail with SerializationError.
package columnar

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/store"
)

// ContentType is the media type of an encoded payload.
const ContentType = "application/vnd.apache.arrow.stream"

type kind int

const (
	kNull kind = iota
	kInt
	kFloat
	kBool
	kString
	kBinary
	kTime
)

func (k kind) arrowType() arrow.DataType {
	switch k {
	case kInt:
		return arrow.PrimitiveTypes.Int64
	case kFloat:
		return arrow.PrimitiveTypes.Float64
	case kBool:
		return arrow.FixedWidthTypes.Boolean
	case kString:
		return arrow.BinaryTypes.String
	case kBinary:
		return arrow.BinaryTypes.Binary
	case kTime:
		return arrow.FixedWidthTypes.Timestamp_us
	}
	return arrow.Null
}

func kindOf(v any) (kind, bool) {
	switch v.(type) {
	case nil:
		return kNull, true
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kInt, true
	case float32, float64:
		return kFloat, true
	case bool:
		return kBool, true
	case string:
		return kString, true
	case []byte:
		return kBinary, true
	case time.Time:
		return kTime, true
	}
	return kNull, false
}

// declared maps a store type name to a kind for columns without values.
func declared(typ string) kind {
	t := strings.ToUpper(typ)
	switch {
	case t == "":
		return kNull
	case strings.Contains(t, "INT"):
		return kInt
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return kFloat
	case strings.Contains(t, "BOOL"):
		return kBool
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"):
		return kBinary
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATE"):
		return kTime
	}
	return kString
}

// infer picks the arrow kind of column c.
func infer(rs *store.Rowset, c int) (kind, error) {
	k := kNull
	for r, row := range rs.Rows {
		vk, ok := kindOf(row[c])
		if !ok {
			return kNull, nerrors.New(nerrors.SerializationError,
				fmt.Sprintf("column %q row %d: unsupported value type %T", rs.Columns[c].Name, r, row[c]))
		}
		switch {
		case vk == kNull || vk == k:
		case k == kNull:
			k = vk
		case (k == kInt && vk == kFloat) || (k == kFloat && vk == kInt):
			k = kFloat
		default:
			k = kString
		}
	}
	if k == kNull {
		k = declared(rs.Columns[c].Type)
	}
	return k, nil
}

// Encode serializes rs as a single-batch Arrow IPC stream.
func Encode(rs *store.Rowset) ([]byte, error) {
	if rs == nil {
		rs = &store.Rowset{}
	}
	for r, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return nil, nerrors.New(nerrors.SerializationError,
				fmt.Sprintf("row %d has %d values for %d columns", r, len(row), len(rs.Columns)))
		}
	}

	kinds := make([]kind, len(rs.Columns))
	fields := make([]arrow.Field, len(rs.Columns))
	for c, col := range rs.Columns {
		k, err := infer(rs, c)
		if err != nil {
			return nil, err
		}
		kinds[c] = k
		fields[c] = arrow.Field{Name: col.Name, Type: k.arrowType(), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range rs.Rows {
		for c, v := range row {
			if err := appendValue(b.Field(c), kinds[c], v); err != nil {
				return nil, nerrors.Wrap(nerrors.SerializationError, fmt.Sprintf("column %q", rs.Columns[c].Name), err)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, nerrors.Wrap(nerrors.SerializationError, "write arrow batch", err)
	}
	if err := w.Close(); err != nil {
		return nil, nerrors.Wrap(nerrors.SerializationError, "close arrow stream", err)
	}
	return buf.Bytes(), nil
}

func appendValue(fb array.Builder, k kind, v any) error {
	if v == nil {
		fb.AppendNull()
		return nil
	}
	switch k {
	case kInt:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("cannot store %T as int64", v)
		}
		fb.(*array.Int64Builder).Append(n)
	case kFloat:
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("cannot store %T as float64", v)
		}
		fb.(*array.Float64Builder).Append(f)
	case kBool:
		fb.(*array.BooleanBuilder).Append(v.(bool))
	case kString:
		switch x := v.(type) {
		case string:
			fb.(*array.StringBuilder).Append(x)
		case []byte:
			fb.(*array.StringBuilder).Append(string(x))
		case time.Time:
			fb.(*array.StringBuilder).Append(x.UTC().Format(time.RFC3339Nano))
		default:
			fb.(*array.StringBuilder).Append(fmt.Sprint(x))
		}
	case kBinary:
		fb.(*array.BinaryBuilder).Append(v.([]byte))
	case kTime:
		fb.(*array.TimestampBuilder).AppendTime(v.(time.Time).UTC())
	default:
		fb.AppendNull()
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// Table is a decoded payload.
type Table struct {
	Columns []store.Column
	Rows    [][]any
}

// Decode reads every batch of an Arrow IPC stream into rows of plain Go
// values (int64, float64, bool, string, []byte, time.Time or nil).
func Decode(payload []byte) (*Table, error) {
	r, err := ipc.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Release()

	schema := r.Schema()
	t := &Table{Columns: make([]store.Column, schema.NumFields())}
	for i, f := range schema.Fields() {
		t.Columns[i] = store.Column{Name: f.Name, Type: f.Type.String()}
	}

	for r.Next() {
		rec := r.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]any, rec.NumCols())
			for c := range row {
				row[c] = valueAt(rec.Column(c), i)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func valueAt(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.Binary:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit)
	}
	return col.ValueStr(i)
}
