package loaders

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const tensorGraphSchema = `{
  "type": "object",
  "required": ["format", "version", "inputs", "nodes", "outputs"],
  "properties": {
    "format": {"const": "tensor-graph"},
    "version": {"const": 1},
    "inputs": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "shape"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "dtype": {"enum": ["float32", "float64", "int32", "int64"]},
          "shape": {"type": "array", "items": {"type": "integer", "minimum": -1}}
        }
      }
    },
    "initializers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "shape", "data"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "shape": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "data": {"type": "array", "items": {"type": "number"}}
        }
      }
    },
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op", "inputs", "output"],
        "additionalProperties": false,
        "properties": {
          "op": {"enum": ["MatMul", "Add", "Sub", "Mul", "Relu", "Sigmoid", "Tanh", "Softmax", "Identity"]},
          "inputs": {"type": "array", "minItems": 1, "maxItems": 2, "items": {"type": "string", "minLength": 1}},
          "output": {"type": "string", "minLength": 1}
        }
      }
    },
    "outputs": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
  }
}`

var tensorGraphValidator = jsonschema.MustCompileString("tensor-graph.json", tensorGraphSchema)

type graphDoc struct {
	Inputs       []graphInput       `json:"inputs"`
	Initializers []graphInitializer `json:"initializers"`
	Nodes        []graphNode        `json:"nodes"`
	Outputs      []string           `json:"outputs"`
}

type graphInput struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

type graphInitializer struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type graphNode struct {
	Op     string   `json:"op"`
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`
}

var opArity = map[string]int{
	"MatMul":   2,
	"Add":      2,
	"Sub":      2,
	"Mul":      2,
	"Relu":     1,
	"Sigmoid":  1,
	"Tanh":     1,
	"Softmax":  1,
	"Identity": 1,
}

type tensorGraphLoader struct {
	reader ports.ArtifactReader
	opts   options
}

// NewTensorGraphLoader loads JSON-encoded computation graphs.
func NewTensorGraphLoader(reader ports.ArtifactReader, opts ...Option) ports.Loader {
	return &tensorGraphLoader{reader: reader, opts: buildOptions(opts)}
}

func (l *tensorGraphLoader) Framework() domain.Framework { return domain.FrameworkTensorGraph }

func (l *tensorGraphLoader) Load(ctx context.Context, path string) (ports.Handle, error) {
	const fw = domain.FrameworkTensorGraph

	data, err := readArtifact(ctx, l.reader, fw, path, l.opts.maxSize)
	if err != nil {
		return nil, err
	}

	var doc graphDoc
	if err := decodeJSON(data, fw, tensorGraphValidator.Validate, &doc); err != nil {
		return nil, err
	}

	h := &tensorGraphHandle{
		inputs:  doc.Inputs,
		consts:  make(map[string]*tensor, len(doc.Initializers)),
		nodes:   doc.Nodes,
		outputs: doc.Outputs,
	}

	defined := make(map[string]bool)
	define := func(name string) error {
		if defined[name] {
			return incompatible(fw, "value %q is defined more than once", name)
		}
		defined[name] = true
		return nil
	}

	for i := range h.inputs {
		if err := define(h.inputs[i].Name); err != nil {
			return nil, err
		}
		if h.inputs[i].DType == "" {
			h.inputs[i].DType = "float32"
		}
	}
	for _, c := range doc.Initializers {
		if err := define(c.Name); err != nil {
			return nil, err
		}
		t, err := newTensor(c.Shape, c.Data)
		if err != nil {
			return nil, incompatible(fw, "initializer %q: %v", c.Name, err)
		}
		h.consts[c.Name] = t
	}
	for i, n := range doc.Nodes {
		if want := opArity[n.Op]; len(n.Inputs) != want {
			return nil, incompatible(fw, "node %d (%s) takes %d inputs, got %d", i, n.Op, want, len(n.Inputs))
		}
		for _, in := range n.Inputs {
			if !defined[in] {
				return nil, incompatible(fw, "node %d (%s) reads %q before it is defined", i, n.Op, in)
			}
		}
		if err := define(n.Output); err != nil {
			return nil, err
		}
	}
	for _, out := range doc.Outputs {
		if !defined[out] {
			return nil, incompatible(fw, "graph output %q is never produced", out)
		}
	}

	if err := h.checkShapes(); err != nil {
		return nil, incompatible(fw, "%v", err)
	}
	return h, nil
}

type tensorGraphHandle struct {
	inputs  []graphInput
	consts  map[string]*tensor
	nodes   []graphNode
	outputs []string
}

func (h *tensorGraphHandle) Framework() domain.Framework { return domain.FrameworkTensorGraph }

// checkShapes propagates static shapes through the graph. -1 marks a dim
// only known at predict time.
func (h *tensorGraphHandle) checkShapes() error {
	shapes := make(map[string][]int, len(h.inputs)+len(h.consts)+len(h.nodes))
	for _, in := range h.inputs {
		shapes[in.Name] = in.Shape
	}
	for name, t := range h.consts {
		shapes[name] = t.shape
	}

	for i, n := range h.nodes {
		a := shapes[n.Inputs[0]]
		var out []int
		switch n.Op {
		case "MatMul":
			b := shapes[n.Inputs[1]]
			s, err := staticMatMul(a, b)
			if err != nil {
				return fmt.Errorf("node %d (%s): %w", i, n.Op, err)
			}
			out = s
		case "Add", "Sub", "Mul":
			b := shapes[n.Inputs[1]]
			s, err := staticBroadcast(a, b)
			if err != nil {
				return fmt.Errorf("node %d (%s): %w", i, n.Op, err)
			}
			out = s
		default:
			out = a
		}
		shapes[n.Output] = out
	}
	return nil
}

func staticBroadcast(a, b []int) ([]int, error) {
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
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		case db == 1:
			out[n-i] = da
		case da == -1:
			out[n-i] = db
		case db == -1:
			out[n-i] = da
		default:
			return nil, fmt.Errorf("cannot broadcast %v with %v", a, b)
		}
	}
	return out, nil
}

func staticMatMul(a, b []int) ([]int, error) {
	if len(a) == 0 || len(b) == 0 || len(a) > 2 || len(b) > 2 {
		return nil, fmt.Errorf("needs rank 1 or 2 operands, got %v and %v", a, b)
	}
	k := a[len(a)-1]
	kb := b[0]
	if k != -1 && kb != -1 && k != kb {
		return nil, fmt.Errorf("inner dimensions differ: %v and %v", a, b)
	}
	switch {
	case len(a) == 1 && len(b) == 1:
		return []int{}, nil
	case len(a) == 1:
		return []int{b[1]}, nil
	case len(b) == 1:
		return []int{a[0]}, nil
	default:
		return []int{a[0], b[1]}, nil
	}
}

// Predict accepts an object of input name to nested array, or a bare array
// when the graph has a single input. It returns output name to tensor.
func (h *tensorGraphHandle) Predict(ctx context.Context, input any) (any, error) {
	const fw = domain.FrameworkTensorGraph

	feeds, err := h.feeds(input)
	if err != nil {
		return nil, err
	}

	values := make(map[string]*tensor, len(h.consts)+len(h.inputs)+len(h.nodes))
	for name, t := range h.consts {
		values[name] = t
	}
	for _, in := range h.inputs {
		t, err := bindInput(in, feeds[in.Name])
		if err != nil {
			return nil, err
		}
		values[in.Name] = t
	}

	for i, n := range h.nodes {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewPredictError(fw, err)
		}
		out, err := evalNode(n, values)
		if err != nil {
			return nil, shapeMismatch(fw, "node %d (%s): %v", i, n.Op, err)
		}
		values[n.Output] = out
	}

	result := make(map[string]any, len(h.outputs))
	for _, name := range h.outputs {
		result[name] = values[name]
	}
	return result, nil
}

func (h *tensorGraphHandle) feeds(input any) (map[string]any, error) {
	const fw = domain.FrameworkTensorGraph

	switch v := input.(type) {
	case map[string]any:
		for _, in := range h.inputs {
			if _, ok := v[in.Name]; !ok {
				return nil, shapeMismatch(fw, "missing input %q", in.Name)
			}
		}
		if len(v) != len(h.inputs) {
			for name := range v {
				if !h.hasInput(name) {
					return nil, shapeMismatch(fw, "unknown input %q", name)
				}
			}
		}
		return v, nil
	case []any:
		if len(h.inputs) != 1 {
			return nil, shapeMismatch(fw, "graph has %d inputs; send an object keyed by input name", len(h.inputs))
		}
		return map[string]any{h.inputs[0].Name: v}, nil
	default:
		return nil, typeMismatch(fw, "expected an object of named inputs or an array")
	}
}

func (h *tensorGraphHandle) hasInput(name string) bool {
	for _, in := range h.inputs {
		if in.Name == name {
			return true
		}
	}
	return false
}

func bindInput(in graphInput, raw any) (*tensor, error) {
	const fw = domain.FrameworkTensorGraph

	shape, values, badType, err := flatten(raw)
	if badType {
		return nil, typeMismatch(fw, "input %q must contain only numbers", in.Name)
	}
	if errors.Is(err, errRagged) {
		return nil, shapeMismatch(fw, "input %q: %v", in.Name, err)
	}
	if len(shape) != len(in.Shape) {
		return nil, shapeMismatch(fw, "input %q expects rank %d, got %d", in.Name, len(in.Shape), len(shape))
	}
	for i, d := range in.Shape {
		if d != -1 && shape[i] != d {
			return nil, shapeMismatch(fw, "input %q expects shape %v, got %v", in.Name, in.Shape, shape)
		}
	}

	switch in.DType {
	case "int32", "int64":
		for _, v := range values {
			if !isIntegral(v) {
				return nil, typeMismatch(fw, "input %q expects integers", in.Name)
			}
			if in.DType == "int32" && (v > math.MaxInt32 || v < math.MinInt32) {
				return nil, typeMismatch(fw, "input %q overflows int32", in.Name)
			}
		}
	case "float32":
		for i, v := range values {
			values[i] = float64(float32(v))
		}
	}
	return &tensor{shape: shape, data: values}, nil
}

func evalNode(n graphNode, values map[string]*tensor) (*tensor, error) {
	a := values[n.Inputs[0]]
	switch n.Op {
	case "MatMul":
		return matmul(a, values[n.Inputs[1]])
	case "Add":
		return elementwise(a, values[n.Inputs[1]], func(x, y float64) float64 { return x + y })
	case "Sub":
		return elementwise(a, values[n.Inputs[1]], func(x, y float64) float64 { return x - y })
	case "Mul":
		return elementwise(a, values[n.Inputs[1]], func(x, y float64) float64 { return x * y })
	case "Relu":
		return a.mapValues(relu), nil
	case "Sigmoid":
		return a.mapValues(sigmoid), nil
	case "Tanh":
		return a.mapValues(math.Tanh), nil
	case "Softmax":
		return softmax(a), nil
	case "Identity":
		return a, nil
	}
	return nil, fmt.Errorf("unsupported op %q", n.Op)
}
