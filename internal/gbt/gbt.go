// Package gbt implements a binary gradient-boosted decision tree classifier
// with per-feature importances.
//
// Trees are regression trees fitted to the gradient of the logistic loss and
// grown level by level over presorted features. Splits maximise the squared
// error reduction (equivalently Friedman's improvement score for unit
// weights); leaves hold a single Newton step. Feature importance is the total
// impurity decrease a feature contributed, averaged over trees and normalised
// to sum to one.
//
// Training is fully deterministic: ties between equally good splits go to the
// lowest feature index, and row subsampling (if enabled) is driven by Params.Seed.
package gbt

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

var (
	// ErrNotFitted is returned when predicting with an untrained classifier.
	ErrNotFitted = errors.New("gbt: classifier is not fitted")

	// ErrSingleClass is returned when the training labels contain one class only.
	ErrSingleClass = errors.New("gbt: training labels contain a single class")
)

// minGain is the smallest squared error reduction accepted as a split.
const minGain = 1e-12

// Params are the boosting hyperparameters.
type Params struct {
	NEstimators     int     `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	MinSamplesSplit int     `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	// Subsample is the fraction of rows each tree is fitted on. 1 disables
	// subsampling.
	Subsample float64 `json:"subsample" yaml:"subsample"`
	Seed      uint64  `json:"seed" yaml:"seed"`
}

// DefaultParams returns 100 trees of depth 4 with learning rate 0.1 and seed 42.
func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		MaxDepth:        4,
		LearningRate:    0.1,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Subsample:       1.0,
		Seed:            42,
	}
}

// Validate reports every out-of-range parameter.
func (p Params) Validate() error {
	var errs []error
	if p.NEstimators < 1 {
		errs = append(errs, fmt.Errorf("n_estimators must be >= 1, got %d", p.NEstimators))
	}
	if p.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth must be >= 1, got %d", p.MaxDepth))
	}
	if !(p.LearningRate > 0) || math.IsInf(p.LearningRate, 0) {
		errs = append(errs, fmt.Errorf("learning_rate must be > 0, got %v", p.LearningRate))
	}
	if p.MinSamplesSplit < 2 {
		errs = append(errs, fmt.Errorf("min_samples_split must be >= 2, got %d", p.MinSamplesSplit))
	}
	if p.MinSamplesLeaf < 1 {
		errs = append(errs, fmt.Errorf("min_samples_leaf must be >= 1, got %d", p.MinSamplesLeaf))
	}
	if !(p.Subsample > 0 && p.Subsample <= 1) {
		errs = append(errs, fmt.Errorf("subsample must be in (0,1], got %v", p.Subsample))
	}
	return errors.Join(errs...)
}

// node is a tree node. Leaves have Feature == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

func (t *tree) predict(x []float64) float64 {
	id := 0
	for {
		nd := &t.Nodes[id]
		if nd.Feature < 0 {
			return nd.Value
		}
		if x[nd.Feature] <= nd.Threshold {
			id = nd.Left
		} else {
			id = nd.Right
		}
	}
}

// Classifier is a fitted (or unfitted) boosted ensemble. A fitted Classifier
// is read-only and safe for concurrent prediction. The exported fields are
// its serialised form.
type Classifier struct {
	Params      Params    `json:"params"`
	NFeatures   int       `json:"n_features"`
	InitScore   float64   `json:"init_score"`
	Trees       []tree    `json:"trees"`
	Importances []float64 `json:"importances"`
	// TrainLoss is the mean training log-loss after each stage.
	TrainLoss []float64 `json:"train_loss,omitempty"`
}

// New returns an unfitted classifier with the given parameters.
func New(p Params) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("gbt: invalid params: %w", err)
	}
	return &Classifier{Params: p}, nil
}

// Fitted reports whether the classifier has been trained.
func (c *Classifier) Fitted() bool {
	return c.NFeatures > 0 && len(c.Trees) > 0
}

// FeatureImportances returns a copy of the per-feature importances. They are
// non-negative and sum to one, or are all zero when no tree made a split.
func (c *Classifier) FeatureImportances() []float64 {
	return slices.Clone(c.Importances)
}

// DecisionFunction returns the raw log-odds score for x.
func (c *Classifier) DecisionFunction(x []float64) (float64, error) {
	if !c.Fitted() {
		return 0, ErrNotFitted
	}
	if len(x) != c.NFeatures {
		return 0, fmt.Errorf("gbt: %w: got %d features, model expects %d",
			vecmath.ErrDimensionMismatch, len(x), c.NFeatures)
	}
	score := c.InitScore
	for i := range c.Trees {
		score += c.Params.LearningRate * c.Trees[i].predict(x)
	}
	return score, nil
}

// PredictProba returns the probability that x belongs to class 1.
func (c *Classifier) PredictProba(x []float64) (float64, error) {
	score, err := c.DecisionFunction(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(score), nil
}

// Predict returns 1 when PredictProba(x) > 0.5 and 0 otherwise.
func (c *Classifier) Predict(x []float64) (int, error) {
	p, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p > 0.5 {
		return 1, nil
	}
	return 0, nil
}

// PredictAll predicts every row of X.
func (c *Classifier) PredictAll(X [][]float64) ([]int, error) {
	out := make([]int, len(X))
	for i, x := range X {
		p, err := c.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// LogLoss returns the mean logistic loss of the classifier on X, y.
func (c *Classifier) LogLoss(X [][]float64, y []int) (float64, error) {
	if len(X) == 0 {
		return 0, nil
	}
	var total float64
	for i, x := range X {
		score, err := c.DecisionFunction(x)
		if err != nil {
			return 0, err
		}
		total += logLoss(score, y[i])
	}
	return total / float64(len(X)), nil
}

// Fit trains the ensemble on rows X with 0/1 labels y, replacing any previous
// fit.
func (c *Classifier) Fit(X [][]float64, y []int) error {
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("gbt: invalid params: %w", err)
	}
	n, d, err := checkInput(X, y)
	if err != nil {
		return err
	}

	pos := 0
	for _, v := range y {
		pos += v
	}
	if pos == 0 || pos == n {
		return ErrSingleClass
	}
	p0 := float64(pos) / float64(n)

	c.NFeatures = d
	c.InitScore = math.Log(p0 / (1 - p0))
	c.Trees = make([]tree, 0, c.Params.NEstimators)
	c.TrainLoss = make([]float64, 0, c.Params.NEstimators)

	g := &grower{
		params: c.Params,
		X:      X,
		order:  presort(X, d),
		resid:  make([]float64, n),
		hess:   make([]float64, n),
		inBag:  make([]bool, n),
		nodeOf: make([]int32, n),
	}
	rng := rand.New(rand.NewPCG(c.Params.Seed, c.Params.Seed^0xda942042e4dd58b5))

	score := make([]float64, n)
	for i := range score {
		score[i] = c.InitScore
	}
	raw := make([]float64, d)
	relevant := 0

	for range c.Params.NEstimators {
		for i := range n {
			p := sigmoid(score[i])
			g.resid[i] = float64(y[i]) - p
			g.hess[i] = p * (1 - p)
		}
		g.sample(rng)

		t, dec := g.grow()
		if len(t.Nodes) > 1 {
			relevant++
			for f, v := range dec {
				raw[f] += v
			}
		}

		var loss float64
		for i, x := range X {
			score[i] += c.Params.LearningRate * t.predict(x)
			loss += logLoss(score[i], y[i])
		}
		c.Trees = append(c.Trees, t)
		c.TrainLoss = append(c.TrainLoss, loss/float64(n))
	}

	c.Importances = make([]float64, d)
	if relevant > 0 {
		var total float64
		for f := range raw {
			raw[f] /= float64(relevant)
			total += raw[f]
		}
		if total > 0 {
			for f := range raw {
				c.Importances[f] = raw[f] / total
			}
		}
	}
	return nil
}

func checkInput(X [][]float64, y []int) (n, d int, err error) {
	n = len(X)
	if n == 0 {
		return 0, 0, errors.New("gbt: no training rows")
	}
	if len(y) != n {
		return 0, 0, fmt.Errorf("gbt: %d rows but %d labels", n, len(y))
	}
	d = len(X[0])
	if d == 0 {
		return 0, 0, errors.New("gbt: rows have no features")
	}
	for i, x := range X {
		if len(x) != d {
			return 0, 0, fmt.Errorf("gbt: %w: row %d has %d features, want %d",
				vecmath.ErrDimensionMismatch, i, len(x), d)
		}
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, fmt.Errorf("gbt: row %d contains a non-finite value", i)
			}
		}
		if y[i] != 0 && y[i] != 1 {
			return 0, 0, fmt.Errorf("gbt: label %d of row %d is not 0 or 1", y[i], i)
		}
	}
	return n, d, nil
}

// presort returns, per feature, the row indices ordered by that feature.
func presort(X [][]float64, d int) [][]int32 {
	order := make([][]int32, d)
	for f := range order {
		idx := make([]int32, len(X))
		for i := range idx {
			idx[i] = int32(i)
		}
		slices.SortStableFunc(idx, func(a, b int32) int {
			xa, xb := X[a][f], X[b][f]
			switch {
			case xa < xb:
				return -1
			case xa > xb:
				return 1
			default:
				return 0
			}
		})
		order[f] = idx
	}
	return order
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logLoss is the logistic loss of raw score z for label y, computed without
// overflow as softplus(z) - y·z.
func logLoss(z float64, y int) float64 {
	var sp float64
	if z > 0 {
		sp = z + math.Log1p(math.Exp(-z))
	} else {
		sp = math.Log1p(math.Exp(z))
	}
	return sp - float64(y)*z
}
