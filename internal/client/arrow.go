package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-moments/internal/stats"
)

// ColumnsMetadataKey is the schema metadata key listing the input column
// names of a result record as a JSON array.
const ColumnsMetadataKey = "moments.columns"

var ErrBadResultRecord = errors.New("client: malformed result record")

// ResultSchema is the schema of a statistics result: one row per statistic
// holding one value per input column.
func ResultSchema(columns []string) *arrow.Schema {
	if columns == nil {
		columns = []string{}
	}
	names, _ := json.Marshal(columns)
	md := arrow.NewMetadata([]string{ColumnsMetadataKey}, []string{string(names)})
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "statistic", Type: arrow.BinaryTypes.String},
			{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
		},
		&md,
	)
}

// RecordBatchBuilder creates Arrow RecordBatches for datasets and results.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildDatasetRecord converts named float64 columns into a RecordBatch.
func (b *RecordBatchBuilder) BuildDatasetRecord(names []string, columns [][]float64) (arrow.RecordBatch, error) {
	if len(names) != len(columns) {
		return nil, fmt.Errorf("client: %d names for %d columns", len(names), len(columns))
	}
	if len(columns) == 0 {
		return nil, nil
	}

	rows := len(columns[0])
	fields := make([]arrow.Field, len(columns))
	arrs := make([]arrow.Array, len(columns))
	for j, col := range columns {
		if len(col) != rows {
			return nil, fmt.Errorf("client: column %q has %d rows, want %d", names[j], len(col), rows)
		}
		fields[j] = arrow.Field{Name: names[j], Type: arrow.PrimitiveTypes.Float64}
		fb := array.NewFloat64Builder(b.mem)
		fb.AppendValues(col, nil)
		arrs[j] = fb.NewArray()
		fb.Release()
	}
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()

	return array.NewRecordBatch(arrow.NewSchema(fields, nil), arrs, int64(rows)), nil
}

// BuildResultRecord converts a statistics result into a RecordBatch with
// ResultSchema.
func (b *RecordBatchBuilder) BuildResultRecord(res *stats.Result, columns []string) arrow.RecordBatch {
	nameBuilder := array.NewStringBuilder(b.mem)
	defer nameBuilder.Release()
	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Float64Builder)

	n := 0
	res.Each(func(opt stats.ResultOption, values *mat.Dense) {
		nameBuilder.Append(opt.Name())
		listBuilder.Append(true)
		valueBuilder.AppendValues(values.RawRowView(0), nil)
		n++
	})

	cols := []arrow.Array{nameBuilder.NewArray(), listBuilder.NewArray()}
	defer cols[0].Release()
	defer cols[1].Release()

	return array.NewRecordBatch(ResultSchema(columns), cols, int64(n))
}

// Statistics is a decoded result record.
type Statistics struct {
	Columns []string
	Values  map[string][]float64
}

// ParseResultRecord decodes a record built by BuildResultRecord.
func ParseResultRecord(rec arrow.RecordBatch) (*Statistics, error) {
	if rec.NumCols() != 2 {
		return nil, fmt.Errorf("%w: %d columns", ErrBadResultRecord, rec.NumCols())
	}
	names, ok := rec.Column(0).(*array.String)
	if !ok {
		return nil, fmt.Errorf("%w: statistic column is %s", ErrBadResultRecord, rec.Column(0).DataType())
	}
	lists, ok := rec.Column(1).(*array.List)
	if !ok {
		return nil, fmt.Errorf("%w: values column is %s", ErrBadResultRecord, rec.Column(1).DataType())
	}
	values, ok := lists.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: values are %s", ErrBadResultRecord, lists.ListValues().DataType())
	}

	out := &Statistics{Values: make(map[string][]float64, names.Len())}
	md := rec.Schema().Metadata()
	if idx := md.FindKey(ColumnsMetadataKey); idx >= 0 {
		if err := json.Unmarshal([]byte(md.Values()[idx]), &out.Columns); err != nil {
			return nil, fmt.Errorf("%w: column names: %v", ErrBadResultRecord, err)
		}
		if len(out.Columns) == 0 {
			out.Columns = nil
		}
	}
	for i := 0; i < names.Len(); i++ {
		start, end := lists.ValueOffsets(i)
		v := make([]float64, end-start)
		copy(v, values.Float64Values()[start:end])
		out.Values[names.Value(i)] = v
	}
	return out, nil
}
