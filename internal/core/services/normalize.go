package services

import (
	"math"
	"reflect"
)

// Tensor is implemented by runtime outputs that carry a shape next to a flat,
// row-major buffer.
type Tensor interface {
	Shape() []int
	Values() []float64
}

// NormalizePrediction coerces a runtime output into plain JSON values: numbers
// become float64 (NaN and Inf become nil), slices and tensors become nested
// []any and maps become map[string]any.
func NormalizePrediction(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Tensor:
		return nestTensor(t.Shape(), t.Values())
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		if t {
			return 1.0
		}
		return 0.0
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = finite(f)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = NormalizePrediction(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = NormalizePrediction(e)
		}
		return out
	}

	// Remaining slice and map types (e.g. [][]float64, map[string]Tensor).
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = NormalizePrediction(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = NormalizePrediction(iter.Value().Interface())
		}
		return out
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	}
	return nil
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func nestTensor(shape []int, values []float64) any {
	if len(shape) == 0 {
		if len(values) == 0 {
			return nil
		}
		return finite(values[0])
	}
	n := shape[0]
	stride := 1
	for _, d := range shape[1:] {
		stride *= d
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		lo, hi := i*stride, (i+1)*stride
		if hi > len(values) {
			hi = len(values)
		}
		if lo > hi {
			lo = hi
		}
		out[i] = nestTensor(shape[1:], values[lo:hi])
	}
	return out
}
