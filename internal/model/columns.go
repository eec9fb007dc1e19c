package model

// Column is a batch of scalar values of a single kind, one per record.
type Column struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	switch c.Kind {
	case KindBytes:
		return len(c.Bytes)
	case KindFloat:
		return len(c.Floats)
	default:
		return len(c.Int64s)
	}
}

// AsFloat32 casts numeric columns to float32. Bytes columns yield nil.
func (c Column) AsFloat32() []float32 {
	switch c.Kind {
	case KindFloat:
		return c.Floats
	case KindInt64:
		out := make([]float32, len(c.Int64s))
		for i, v := range c.Int64s {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}

// Columns is the columnar view of a batch of records.
type Columns map[string]Column

// Rows returns the row count of any column, or 0 for an empty batch.
func (cs Columns) Rows() int {
	for _, c := range cs {
		return c.Len()
	}
	return 0
}

// Examples converts the batch back to one Example per row.
func (cs Columns) Examples() []Example {
	n := cs.Rows()
	out := make([]Example, n)
	for i := range out {
		out[i] = make(Example, len(cs))
	}
	for name, c := range cs {
		for i := 0; i < n; i++ {
			switch c.Kind {
			case KindBytes:
				out[i][name] = Feature{Kind: KindBytes, Bytes: [][]byte{c.Bytes[i]}}
			case KindFloat:
				out[i][name] = FloatFeature(c.Floats[i])
			case KindInt64:
				out[i][name] = Int64Feature(c.Int64s[i])
			}
		}
	}
	return out
}
