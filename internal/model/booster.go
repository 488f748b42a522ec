// Package model evaluates the frozen XGBoost fraud classifier.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// document mirrors the parts of the XGBoost native JSON format we read.
type document struct {
	Learner struct {
		FeatureNames []string `json:"feature_names"`
		ModelParam   struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name   string    `json:"name"`
			Model  gbtree    `json:"model"`
			GBTree *struct { // dart nests the tree model one level down
				Model gbtree `json:"model"`
			} `json:"gbtree"`
			WeightDrop []float64 `json:"weight_drop"`
		} `json:"gradient_booster"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type gbtree struct {
	Trees []treeDoc `json:"trees"`
}

type treeDoc struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flexBools `json:"default_left"`
	SplitType       []int     `json:"split_type"`
}

// flexBools accepts both [true,false] and [1,0]; XGBoost changed the
// encoding of default_left between releases.
type flexBools []bool

func (f *flexBools) UnmarshalJSON(data []byte) error {
	var bools []bool
	if err := json.Unmarshal(data, &bools); err == nil {
		*f = bools
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("default_left: %w", err)
	}
	out := make([]bool, len(ints))
	for i, v := range ints {
		out[i] = v != 0
	}
	*f = out
	return nil
}

// Booster is a loaded binary logistic tree ensemble. It is immutable after
// load and safe for concurrent use.
type Booster struct {
	trees        []tree
	weights      []float64
	baseMargin   float64
	numFeature   int
	featureNames []string
	objective    string
	version      string
}

// LoadBooster reads a model file and checks it against the expected feature
// names. Every failure is a *domain.StartupError.
func LoadBooster(path string, featureNames []string) (*Booster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.StartupError{Component: "model", Path: path, Err: err}
	}
	b, err := ParseBooster(data, featureNames)
	if err != nil {
		return nil, &domain.StartupError{Component: "model", Path: path, Err: err}
	}
	return b, nil
}

// ParseBooster decodes an XGBoost JSON model. featureNames is the schema
// the vectors will follow; a model trained on a different layout is rejected.
func ParseBooster(data []byte, featureNames []string) (*Booster, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty model document")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	l := doc.Learner

	objective := l.Objective.Name
	switch objective {
	case "binary:logistic", "reg:logistic", "binary:logitraw":
	case "":
		return nil, errors.New("model has no objective")
	default:
		return nil, fmt.Errorf("unsupported objective %q", objective)
	}

	if n := parseIntParam(l.ModelParam.NumClass); n > 1 {
		return nil, fmt.Errorf("multi-class models are not supported (num_class=%d)", n)
	}

	numFeature := parseIntParam(l.ModelParam.NumFeature)
	if numFeature != len(featureNames) {
		return nil, fmt.Errorf("model expects %d features, schema has %d", numFeature, len(featureNames))
	}
	if len(l.FeatureNames) > 0 {
		if err := matchNames(l.FeatureNames, featureNames); err != nil {
			return nil, err
		}
	}

	baseScore, err := parseBaseScore(l.ModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	baseMargin := baseScore
	if objective != "binary:logitraw" {
		if baseScore <= 0 || baseScore >= 1 {
			return nil, fmt.Errorf("base_score %v outside (0,1)", baseScore)
		}
		baseMargin = math.Log(baseScore / (1 - baseScore))
	}

	gb := l.GradientBooster
	var docs []treeDoc
	var weights []float64
	switch gb.Name {
	case "gbtree", "":
		docs = gb.Model.Trees
	case "dart":
		if gb.GBTree == nil {
			return nil, errors.New("dart model has no gbtree section")
		}
		docs = gb.GBTree.Model.Trees
		weights = gb.WeightDrop
		if len(weights) != len(docs) {
			return nil, fmt.Errorf("dart model has %d weights for %d trees", len(weights), len(docs))
		}
	default:
		return nil, fmt.Errorf("unsupported booster %q", gb.Name)
	}
	if len(docs) == 0 {
		return nil, errors.New("model has no trees")
	}

	trees := make([]tree, len(docs))
	for i, td := range docs {
		t, err := buildTree(td, numFeature)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = t
	}

	names := make([]string, len(featureNames))
	copy(names, featureNames)

	return &Booster{
		trees:        trees,
		weights:      weights,
		baseMargin:   baseMargin,
		numFeature:   numFeature,
		featureNames: names,
		objective:    objective,
		version:      formatVersion(doc.Version),
	}, nil
}

// NumFeature is the vector length the model accepts.
func (b *Booster) NumFeature() int { return b.numFeature }

// NumTrees is the ensemble size.
func (b *Booster) NumTrees() int { return len(b.trees) }

// Version is the XGBoost release that wrote the artifact, e.g. "2.0.3".
func (b *Booster) Version() string { return b.version }

// Objective is the training objective name.
func (b *Booster) Objective() string { return b.objective }

// margin returns the raw ensemble output for a vector that has already been
// length-checked.
func (b *Booster) margin(x []float64) float64 {
	sum := b.baseMargin
	for i := range b.trees {
		leaf := b.trees[i].predict(x)
		if b.weights != nil {
			leaf *= b.weights[i]
		}
		sum += leaf
	}
	return sum
}

func matchNames(model, schema []string) error {
	if len(model) != len(schema) {
		return fmt.Errorf("model has %d feature names, schema has %d", len(model), len(schema))
	}
	for i := range model {
		if model[i] != schema[i] {
			return fmt.Errorf("feature %d: model expects %q, schema has %q", i, model[i], schema[i])
		}
	}
	return nil
}

func parseIntParam(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parseBaseScore accepts "5E-1" as well as the bracketed vector form
// "[5E-1]" written by newer releases.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %w", s, err)
	}
	return v, nil
}

func formatVersion(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
