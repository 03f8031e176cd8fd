package loaders

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// pmmlDoc covers the PMML 4.x RegressionModel subset. Element names match in
// any namespace.
type pmmlDoc struct {
	XMLName         xml.Name         `xml:"PMML"`
	Version         string           `xml:"version,attr"`
	DataFields      []pmmlDataField  `xml:"DataDictionary>DataField"`
	RegressionModel []pmmlRegression `xml:"RegressionModel"`
	OtherModels     []pmmlAnyModel   `xml:",any"`
}

type pmmlAnyModel struct {
	XMLName xml.Name
}

type pmmlDataField struct {
	Name     string `xml:"name,attr"`
	OpType   string `xml:"optype,attr"`
	DataType string `xml:"dataType,attr"`
}

type pmmlRegression struct {
	FunctionName        string             `xml:"functionName,attr"`
	NormalizationMethod string             `xml:"normalizationMethod,attr"`
	MiningFields        []pmmlMiningField  `xml:"MiningSchema>MiningField"`
	Tables              []pmmlRegressTable `xml:"RegressionTable"`
}

type pmmlMiningField struct {
	Name                    string   `xml:"name,attr"`
	UsageType               string   `xml:"usageType,attr"`
	MissingValueReplacement *float64 `xml:"missingValueReplacement,attr"`
}

type pmmlRegressTable struct {
	Intercept             float64              `xml:"intercept,attr"`
	TargetCategory        string               `xml:"targetCategory,attr"`
	NumericPredictors     []pmmlNumericPred    `xml:"NumericPredictor"`
	CategoricalPredictors []pmmlCategoricalRef `xml:"CategoricalPredictor"`
	PredictorTerms        []pmmlCategoricalRef `xml:"PredictorTerm"`
}

type pmmlNumericPred struct {
	Name        string  `xml:"name,attr"`
	Coefficient float64 `xml:"coefficient,attr"`
	Exponent    *int    `xml:"exponent,attr"`
}

type pmmlCategoricalRef struct {
	Name string `xml:"name,attr"`
}

// top-level elements that carry no model
var pmmlNonModelElements = map[string]bool{
	"Header":                   true,
	"MiningBuildTask":          true,
	"DataDictionary":           true,
	"TransformationDictionary": true,
	"Extension":                true,
	"RegressionModel":          true,
}

type genericScoringLoader struct {
	reader ports.ArtifactReader
	opts   options
}

// NewGenericScoringLoader loads PMML regression and classification models.
func NewGenericScoringLoader(reader ports.ArtifactReader, opts ...Option) ports.Loader {
	return &genericScoringLoader{reader: reader, opts: buildOptions(opts)}
}

func (l *genericScoringLoader) Framework() domain.Framework { return domain.FrameworkGenericScoring }

func (l *genericScoringLoader) Load(ctx context.Context, path string) (ports.Handle, error) {
	const fw = domain.FrameworkGenericScoring

	data, err := readArtifact(ctx, l.reader, fw, path, l.opts.maxSize)
	if err != nil {
		return nil, err
	}

	var doc pmmlDoc
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err))
	}

	if !strings.HasPrefix(doc.Version, "4.") {
		return nil, incompatible(fw, "PMML version %q is not supported", doc.Version)
	}
	for _, m := range doc.OtherModels {
		if !pmmlNonModelElements[m.XMLName.Local] {
			return nil, incompatible(fw, "model element %s is not supported", m.XMLName.Local)
		}
	}
	if len(doc.RegressionModel) != 1 {
		return nil, incompatible(fw, "expected one RegressionModel, found %d", len(doc.RegressionModel))
	}

	h, err := buildScoringHandle(doc.DataFields, doc.RegressionModel[0])
	if err != nil {
		return nil, err
	}
	return h, nil
}

func buildScoringHandle(fields []pmmlDataField, model pmmlRegression) (*scoringHandle, error) {
	const fw = domain.FrameworkGenericScoring

	dict := make(map[string]pmmlDataField, len(fields))
	for _, f := range fields {
		dict[f.Name] = f
	}

	h := &scoringHandle{
		classification: model.FunctionName == "classification",
		normalization:  model.NormalizationMethod,
		index:          make(map[string]int),
	}
	switch model.FunctionName {
	case "regression", "classification":
	default:
		return nil, incompatible(fw, "functionName %q is not supported", model.FunctionName)
	}
	switch h.normalization {
	case "":
		h.normalization = "none"
	case "none", "logit", "softmax":
	default:
		return nil, incompatible(fw, "normalizationMethod %q is not supported", h.normalization)
	}

	for _, mf := range model.MiningFields {
		switch mf.UsageType {
		case "", "active":
		default:
			continue
		}
		df, ok := dict[mf.Name]
		if !ok {
			return nil, incompatible(fw, "mining field %q is not in the data dictionary", mf.Name)
		}
		if df.OpType == "categorical" || df.DataType == "string" {
			return nil, incompatible(fw, "field %q is categorical; only numeric predictors are supported", mf.Name)
		}
		h.index[mf.Name] = len(h.fields)
		h.fields = append(h.fields, scoringField{name: mf.Name, replacement: mf.MissingValueReplacement})
	}
	if len(h.fields) == 0 {
		return nil, incompatible(fw, "mining schema has no active fields")
	}

	if len(model.Tables) == 0 {
		return nil, incompatible(fw, "no RegressionTable")
	}
	if !h.classification && len(model.Tables) != 1 {
		return nil, incompatible(fw, "regression expects one RegressionTable, found %d", len(model.Tables))
	}
	if h.classification && len(model.Tables) < 2 {
		return nil, incompatible(fw, "classification expects at least two RegressionTables")
	}

	for i, t := range model.Tables {
		if len(t.CategoricalPredictors) > 0 || len(t.PredictorTerms) > 0 {
			return nil, incompatible(fw, "RegressionTable %d uses categorical predictors or interaction terms", i)
		}
		if h.classification && t.TargetCategory == "" {
			return nil, incompatible(fw, "RegressionTable %d has no targetCategory", i)
		}
		table := scoringTable{intercept: t.Intercept, category: t.TargetCategory}
		for _, p := range t.NumericPredictors {
			idx, ok := h.index[p.Name]
			if !ok {
				return nil, incompatible(fw, "predictor %q is not an active field", p.Name)
			}
			exp := 1
			if p.Exponent != nil {
				exp = *p.Exponent
			}
			table.terms = append(table.terms, scoringTerm{field: idx, coefficient: p.Coefficient, exponent: exp})
		}
		h.tables = append(h.tables, table)
	}
	return h, nil
}

type scoringField struct {
	name        string
	replacement *float64
}

type scoringTerm struct {
	field       int
	coefficient float64
	exponent    int
}

type scoringTable struct {
	intercept float64
	category  string
	terms     []scoringTerm
}

type scoringHandle struct {
	classification bool
	normalization  string
	fields         []scoringField
	index          map[string]int
	tables         []scoringTable
}

func (h *scoringHandle) Framework() domain.Framework { return domain.FrameworkGenericScoring }

// Predict scores records given as arrays in mining-schema order or as
// objects keyed by field name.
func (h *scoringHandle) Predict(ctx context.Context, input any) (any, error) {
	const fw = domain.FrameworkGenericScoring

	rows, ok := toRecords(input)
	if !ok {
		return nil, typeMismatch(fw, "expected an array of records")
	}

	out := make([]any, 0, len(rows))
	values := make([]float64, len(h.fields))
	for r, raw := range rows {
		if r%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, domain.NewPredictError(fw, err)
			}
		}
		if err := h.bind(r, raw, values); err != nil {
			return nil, err
		}
		out = append(out, h.score(values))
	}
	return out, nil
}

func (h *scoringHandle) bind(r int, raw any, values []float64) error {
	const fw = domain.FrameworkGenericScoring

	set := func(i int, v any) error {
		if v == nil {
			if h.fields[i].replacement == nil {
				return shapeMismatch(fw, "record %d is missing field %q", r, h.fields[i].name)
			}
			values[i] = *h.fields[i].replacement
			return nil
		}
		f, ok := toFloat(v)
		if !ok {
			return typeMismatch(fw, "record %d field %q must be a number", r, h.fields[i].name)
		}
		values[i] = f
		return nil
	}

	switch rec := raw.(type) {
	case []any:
		if len(rec) != len(h.fields) {
			return shapeMismatch(fw, "record %d has %d fields, model expects %d", r, len(rec), len(h.fields))
		}
		for i, v := range rec {
			if err := set(i, v); err != nil {
				return err
			}
		}
	case map[string]any:
		for name := range rec {
			if _, ok := h.index[name]; !ok {
				return shapeMismatch(fw, "record %d has unknown field %q", r, name)
			}
		}
		for i, f := range h.fields {
			if err := set(i, rec[f.name]); err != nil {
				return err
			}
		}
	default:
		return typeMismatch(fw, "record %d must be an array or an object", r)
	}
	return nil
}

func (h *scoringHandle) score(values []float64) any {
	ys := make([]float64, len(h.tables))
	for i, t := range h.tables {
		y := t.intercept
		for _, term := range t.terms {
			y += term.coefficient * math.Pow(values[term.field], float64(term.exponent))
		}
		ys[i] = y
	}

	if !h.classification {
		if h.normalization == "none" {
			return ys[0]
		}
		return sigmoid(ys[0])
	}

	switch h.normalization {
	case "softmax":
		softmaxInPlace(ys)
	case "logit":
		// All but the last category are scored independently; the last
		// takes the remaining probability mass.
		var sum float64
		last := len(ys) - 1
		for i := 0; i < last; i++ {
			ys[i] = sigmoid(ys[i])
			sum += ys[i]
		}
		ys[last] = math.Max(0, 1-sum)
	}
	return ys
}
