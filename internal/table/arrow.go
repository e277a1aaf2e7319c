package table

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

var (
	// ErrUnsupportedType is returned for Arrow columns that are not numeric.
	ErrUnsupportedType = errors.New("table: unsupported column type")
	// ErrNullValue is returned when a numeric column carries nulls.
	ErrNullValue = errors.New("table: null value in numeric column")
	// ErrSchemaMismatch is returned when record batches disagree on columns.
	ErrSchemaMismatch = errors.New("table: record batches have different schemas")
	// ErrNoColumn is returned when a named column is missing.
	ErrNoColumn = errors.New("table: column not found")
)

// Dataset is a column-major matrix assembled from Arrow record batches,
// plus the optional per-row weights column split off from it.
type Dataset struct {
	Matrix  *Matrix
	Weights []float64
	Columns []string
}

// FromRecord converts a single record batch. See FromRecords.
func FromRecord(rec arrow.RecordBatch, weightsColumn string) (*Dataset, error) {
	return FromRecords([]arrow.RecordBatch{rec}, weightsColumn)
}

// FromRecords concatenates the numeric columns of recs into one column-major
// matrix. If weightsColumn is non-empty, that column becomes Dataset.Weights
// and is excluded from the matrix.
func FromRecords(recs []arrow.RecordBatch, weightsColumn string) (*Dataset, error) {
	if len(recs) == 0 {
		m, _ := NewMatrix(nil, 0, 0, 0, ColumnMajor)
		return &Dataset{Matrix: m}, nil
	}

	schema := recs[0].Schema()
	weightIdx := -1
	var names []string
	var fieldIdx []int
	for i, f := range schema.Fields() {
		if weightsColumn != "" && f.Name == weightsColumn {
			weightIdx = i
			continue
		}
		names = append(names, f.Name)
		fieldIdx = append(fieldIdx, i)
	}
	if weightsColumn != "" && weightIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, weightsColumn)
	}

	var rows int64
	for _, rec := range recs {
		if !rec.Schema().Equal(schema) {
			return nil, ErrSchemaMismatch
		}
		rows += rec.NumRows()
	}

	n := int(rows)
	data := make([]float64, n*len(fieldIdx))
	var weights []float64
	if weightIdx >= 0 {
		weights = make([]float64, n)
	}

	offset := 0
	for _, rec := range recs {
		batchRows := int(rec.NumRows())
		for j, idx := range fieldIdx {
			dst := data[j*n+offset : j*n+offset+batchRows]
			if err := copyColumn(dst, rec.Column(idx)); err != nil {
				return nil, fmt.Errorf("column %q: %w", names[j], err)
			}
		}
		if weightIdx >= 0 {
			if err := copyColumn(weights[offset:offset+batchRows], rec.Column(weightIdx)); err != nil {
				return nil, fmt.Errorf("weights column %q: %w", weightsColumn, err)
			}
		}
		offset += batchRows
	}

	m, err := NewMatrix(data, n, len(fieldIdx), n, ColumnMajor)
	if err != nil {
		return nil, err
	}
	return &Dataset{Matrix: m, Weights: weights, Columns: names}, nil
}

func copyColumn(dst []float64, col arrow.Array) error {
	if col.NullN() > 0 {
		return ErrNullValue
	}
	switch a := col.(type) {
	case *array.Float64:
		copy(dst, a.Float64Values())
	case *array.Float32:
		for i, v := range a.Float32Values() {
			dst[i] = float64(v)
		}
	case *array.Float16:
		for i := range dst {
			dst[i] = float64(a.Value(i).Float32())
		}
	case *array.Int64:
		for i, v := range a.Int64Values() {
			dst[i] = float64(v)
		}
	case *array.Int32:
		for i, v := range a.Int32Values() {
			dst[i] = float64(v)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, col.DataType())
	}
	return nil
}

// WithWeights returns a copy of d in which the named column is split off as
// the row weights. It fails if d already carries weights.
func (d *Dataset) WithWeights(column string) (*Dataset, error) {
	if d.Weights != nil {
		return nil, fmt.Errorf("table: dataset already has weights")
	}
	idx := -1
	for j, name := range d.Columns {
		if name == column {
			idx = j
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, column)
	}

	rows, cols := d.Matrix.Dims()
	weights := make([]float64, rows)
	data := make([]float64, 0, rows*(cols-1))
	names := make([]string, 0, cols-1)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			v := d.Matrix.At(i, j)
			if j == idx {
				weights[i] = v
			} else {
				data = append(data, v)
			}
		}
		if j != idx {
			names = append(names, d.Columns[j])
		}
	}

	m, err := NewMatrix(data, rows, cols-1, 0, ColumnMajor)
	if err != nil {
		return nil, err
	}
	return &Dataset{Matrix: m, Weights: weights, Columns: names}, nil
}
