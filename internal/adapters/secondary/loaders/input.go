package loaders

import (
	"encoding/json"
	"errors"
	"math"
)

// toFloat accepts the numeric forms a decoded JSON request can carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toRecords splits a record-oriented input into rows. A flat array is one
// record; an array of arrays or of objects is a batch. ok is false when input
// is not an array at all.
func toRecords(input any) (rows []any, ok bool) {
	list, isList := input.([]any)
	if !isList {
		return nil, false
	}
	if len(list) == 0 {
		return list, true
	}
	switch list[0].(type) {
	case []any, map[string]any:
		return list, true
	}
	return []any{list}, true
}

// flatten decodes a nested numeric array into row-major values and its shape.
// isType reports a non-numeric leaf; ragged arrays report a shape error.
func flatten(v any) (shape []int, values []float64, isType bool, err error) {
	if f, ok := toFloat(v); ok {
		return []int{}, []float64{f}, false, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, nil, true, nil
	}

	shape = []int{len(list)}
	var inner []int
	for i, e := range list {
		s, vals, bad, err := flatten(e)
		if err != nil || bad {
			return nil, nil, bad, err
		}
		if i == 0 {
			inner = s
		} else if !equalShape(inner, s) {
			return nil, nil, false, errRagged
		}
		values = append(values, vals...)
	}
	if len(list) == 0 {
		inner = []int{}
	}
	return append(shape, inner...), values, false, nil
}

var errRagged = errors.New("nested arrays have different lengths")

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmaxInPlace normalizes v with the max-shift for stability.
func softmaxInPlace(v []float64) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
