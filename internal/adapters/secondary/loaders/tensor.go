package loaders

import (
	"fmt"
	"math"
)

// tensor is a dense row-major float64 array.
type tensor struct {
	shape []int
	data  []float64
}

func (t *tensor) Shape() []int      { return t.shape }
func (t *tensor) Values() []float64 { return t.data }

func (t *tensor) rank() int { return len(t.shape) }

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func newTensor(shape []int, data []float64) (*tensor, error) {
	if numElements(shape) != len(data) {
		return nil, fmt.Errorf("shape %v holds %d values, got %d", shape, numElements(shape), len(data))
	}
	return &tensor{shape: shape, data: data}, nil
}

func (t *tensor) mapValues(f func(float64) float64) *tensor {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = f(v)
	}
	return &tensor{shape: append([]int(nil), t.shape...), data: out}
}

// broadcastShape applies numpy rules: dims are aligned from the right and
// must be equal or 1.
func broadcastShape(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db, db == 1:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		default:
			return nil, fmt.Errorf("cannot broadcast %v with %v", a, b)
		}
	}
	return out, nil
}

// broadcastIndex maps a flat index in the output shape to one in t.
func (t *tensor) broadcastIndex(outShape []int, flat int) int {
	idx := 0
	stride := 1
	for i := 1; i <= len(t.shape); i++ {
		dim := outShape[len(outShape)-i]
		coord := flat % dim
		flat /= dim
		if t.shape[len(t.shape)-i] != 1 {
			idx += coord * stride
		}
		stride *= t.shape[len(t.shape)-i]
	}
	return idx
}

func elementwise(a, b *tensor, f func(x, y float64) float64) (*tensor, error) {
	shape, err := broadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	n := numElements(shape)
	out := make([]float64, n)
	sameA, sameB := equalShape(a.shape, shape), equalShape(b.shape, shape)
	for i := 0; i < n; i++ {
		ia, ib := i, i
		if !sameA {
			ia = a.broadcastIndex(shape, i)
		}
		if !sameB {
			ib = b.broadcastIndex(shape, i)
		}
		out[i] = f(a.data[ia], b.data[ib])
	}
	return &tensor{shape: shape, data: out}, nil
}

// matmul multiplies rank 1 or 2 operands with numpy semantics for vectors.
func matmul(a, b *tensor) (*tensor, error) {
	if a.rank() == 0 || b.rank() == 0 || a.rank() > 2 || b.rank() > 2 {
		return nil, fmt.Errorf("MatMul needs rank 1 or 2 operands, got %v and %v", a.shape, b.shape)
	}
	ash, bsh := a.shape, b.shape
	if a.rank() == 1 {
		ash = []int{1, a.shape[0]}
	}
	if b.rank() == 1 {
		bsh = []int{b.shape[0], 1}
	}
	n, k, m := ash[0], ash[1], bsh[1]
	if bsh[0] != k {
		return nil, fmt.Errorf("MatMul inner dimensions differ: %v and %v", a.shape, b.shape)
	}

	out := make([]float64, n*m)
	for i := 0; i < n; i++ {
		for p := 0; p < k; p++ {
			av := a.data[i*k+p]
			if av == 0 {
				continue
			}
			row := b.data[p*m : (p+1)*m]
			for j, bv := range row {
				out[i*m+j] += av * bv
			}
		}
	}

	var shape []int
	switch {
	case a.rank() == 1 && b.rank() == 1:
		shape = []int{}
	case a.rank() == 1:
		shape = []int{m}
	case b.rank() == 1:
		shape = []int{n}
	default:
		shape = []int{n, m}
	}
	return &tensor{shape: shape, data: out}, nil
}

// softmax normalizes along the last axis.
func softmax(t *tensor) *tensor {
	out := t.mapValues(func(v float64) float64 { return v })
	if t.rank() == 0 {
		out.data[0] = 1
		return out
	}
	last := t.shape[t.rank()-1]
	if last == 0 {
		return out
	}
	for lo := 0; lo < len(out.data); lo += last {
		softmaxInPlace(out.data[lo : lo+last])
	}
	return out
}

func relu(v float64) float64 { return math.Max(0, v) }
