package loaders

import (
	"context"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

const treeEnsembleSchema = `{
  "type": "object",
  "required": ["format", "version", "objective", "n_features", "trees"],
  "properties": {
    "format": {"const": "tree-ensemble"},
    "version": {"const": 1},
    "objective": {"enum": ["regression", "binary:logistic", "multi:softprob"]},
    "n_features": {"type": "integer", "minimum": 1},
    "n_classes": {"type": "integer", "minimum": 1},
    "base_score": {"type": "number"},
    "trees": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["nodes"],
        "additionalProperties": false,
        "properties": {
          "class": {"type": "integer", "minimum": 0},
          "nodes": {
            "type": "array",
            "minItems": 1,
            "items": {"oneOf": [{"$ref": "#/$defs/leaf"}, {"$ref": "#/$defs/split"}]}
          }
        }
      }
    }
  },
  "$defs": {
    "leaf": {
      "type": "object",
      "required": ["value"],
      "additionalProperties": false,
      "properties": {"value": {"type": "number"}}
    },
    "split": {
      "type": "object",
      "required": ["feature", "threshold", "left", "right"],
      "additionalProperties": false,
      "properties": {
        "feature": {"type": "integer", "minimum": 0},
        "threshold": {"type": "number"},
        "left": {"type": "integer", "minimum": 1},
        "right": {"type": "integer", "minimum": 1},
        "default_left": {"type": "boolean"}
      }
    }
  }
}`

var treeEnsembleValidator = jsonschema.MustCompileString("tree-ensemble.json", treeEnsembleSchema)

const (
	objectiveRegression = "regression"
	objectiveBinary     = "binary:logistic"
	objectiveMulti      = "multi:softprob"
)

type ensembleDoc struct {
	Objective string     `json:"objective"`
	NFeatures int        `json:"n_features"`
	NClasses  int        `json:"n_classes"`
	BaseScore float64    `json:"base_score"`
	Trees     []treeSpec `json:"trees"`
}

type treeSpec struct {
	Class int        `json:"class"`
	Nodes []treeNode `json:"nodes"`
}

// treeNode is a split when Value is nil and a leaf otherwise.
type treeNode struct {
	Feature     int      `json:"feature"`
	Threshold   float64  `json:"threshold"`
	Left        int      `json:"left"`
	Right       int      `json:"right"`
	DefaultLeft bool     `json:"default_left"`
	Value       *float64 `json:"value"`
}

type treeEnsembleLoader struct {
	reader ports.ArtifactReader
	opts   options
}

// NewTreeEnsembleLoader loads gradient-boosted tree ensembles.
func NewTreeEnsembleLoader(reader ports.ArtifactReader, opts ...Option) ports.Loader {
	return &treeEnsembleLoader{reader: reader, opts: buildOptions(opts)}
}

func (l *treeEnsembleLoader) Framework() domain.Framework { return domain.FrameworkTreeEnsemble }

func (l *treeEnsembleLoader) Load(ctx context.Context, path string) (ports.Handle, error) {
	const fw = domain.FrameworkTreeEnsemble

	data, err := readArtifact(ctx, l.reader, fw, path, l.opts.maxSize)
	if err != nil {
		return nil, err
	}

	var doc ensembleDoc
	if err := decodeJSON(data, fw, treeEnsembleValidator.Validate, &doc); err != nil {
		return nil, err
	}

	switch doc.Objective {
	case objectiveMulti:
		if doc.NClasses < 2 {
			return nil, incompatible(fw, "%s needs n_classes >= 2, got %d", doc.Objective, doc.NClasses)
		}
	default:
		if doc.NClasses > 1 {
			return nil, incompatible(fw, "%s produces one output, got n_classes %d", doc.Objective, doc.NClasses)
		}
		doc.NClasses = 1
	}

	for t, tree := range doc.Trees {
		if tree.Class >= doc.NClasses {
			return nil, incompatible(fw, "tree %d targets class %d of %d", t, tree.Class, doc.NClasses)
		}
		for i, n := range tree.Nodes {
			if n.Value != nil {
				continue
			}
			if n.Feature >= doc.NFeatures {
				return nil, incompatible(fw, "tree %d node %d splits on feature %d of %d", t, i, n.Feature, doc.NFeatures)
			}
			// Children after their parent rules out cycles.
			for _, child := range []int{n.Left, n.Right} {
				if child <= i || child >= len(tree.Nodes) {
					return nil, incompatible(fw, "tree %d node %d has invalid child %d", t, i, child)
				}
			}
		}
	}

	return &treeEnsembleHandle{
		objective: doc.Objective,
		nFeatures: doc.NFeatures,
		nClasses:  doc.NClasses,
		baseScore: doc.BaseScore,
		trees:     doc.Trees,
	}, nil
}

type treeEnsembleHandle struct {
	objective string
	nFeatures int
	nClasses  int
	baseScore float64
	trees     []treeSpec
}

func (h *treeEnsembleHandle) Framework() domain.Framework { return domain.FrameworkTreeEnsemble }

// Predict scores a batch of feature rows. null entries are missing values.
// Each record yields a scalar, or a class-probability vector for
// multi-class ensembles.
func (h *treeEnsembleHandle) Predict(ctx context.Context, input any) (any, error) {
	const fw = domain.FrameworkTreeEnsemble

	rows, ok := toRecords(input)
	if !ok {
		return nil, typeMismatch(fw, "expected an array of feature rows")
	}

	out := make([]any, 0, len(rows))
	features := make([]float64, h.nFeatures)
	for r, raw := range rows {
		if r%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, domain.NewPredictError(fw, err)
			}
		}
		row, ok := raw.([]any)
		if !ok {
			return nil, typeMismatch(fw, "record %d must be an array of numbers", r)
		}
		if len(row) != h.nFeatures {
			return nil, shapeMismatch(fw, "record %d has %d features, model expects %d", r, len(row), h.nFeatures)
		}
		for i, v := range row {
			if v == nil {
				features[i] = math.NaN()
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				return nil, typeMismatch(fw, "record %d feature %d must be a number or null", r, i)
			}
			features[i] = f
		}
		out = append(out, h.score(features))
	}
	return out, nil
}

func (h *treeEnsembleHandle) score(features []float64) any {
	margins := make([]float64, h.nClasses)
	for i := range margins {
		margins[i] = h.baseScore
	}
	for _, tree := range h.trees {
		margins[tree.Class] += walk(tree.Nodes, features)
	}

	switch h.objective {
	case objectiveBinary:
		return sigmoid(margins[0])
	case objectiveMulti:
		softmaxInPlace(margins)
		return margins
	default:
		return margins[0]
	}
}

// walk follows x < threshold to the left; a missing value takes the
// node's default branch.
func walk(nodes []treeNode, features []float64) float64 {
	i := 0
	for nodes[i].Value == nil {
		n := nodes[i]
		x := features[n.Feature]
		switch {
		case math.IsNaN(x):
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case x < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
	return *nodes[i].Value
}
