// Package evaluate scores binary predictions: accuracy, the confusion matrix
// and a per-class precision / recall / F1 report.
package evaluate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLengthMismatch is returned when truth and prediction slices differ in length.
var ErrLengthMismatch = errors.New("evaluate: label and prediction counts differ")

// Confusion is a 2x2 confusion matrix indexed [actual][predicted].
type Confusion [2][2]int

// NewConfusion counts predictions against truth. Labels must be 0 or 1.
func NewConfusion(yTrue, yPred []int) (Confusion, error) {
	var c Confusion
	if len(yTrue) != len(yPred) {
		return c, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(yTrue), len(yPred))
	}
	for i := range yTrue {
		a, p := yTrue[i], yPred[i]
		if a&^1 != 0 || p&^1 != 0 {
			return c, fmt.Errorf("evaluate: example %d: labels must be 0 or 1, got %d/%d", i, a, p)
		}
		c[a][p]++
	}
	return c, nil
}

// Total returns the number of counted examples.
func (c Confusion) Total() int {
	return c[0][0] + c[0][1] + c[1][0] + c[1][1]
}

// Accuracy returns the fraction of correct predictions, or 0 when empty.
func (c Confusion) Accuracy() float64 {
	n := c.Total()
	if n == 0 {
		return 0
	}
	return float64(c[0][0]+c[1][1]) / float64(n)
}

// Accuracy is a shorthand for NewConfusion followed by Confusion.Accuracy.
func Accuracy(yTrue, yPred []int) (float64, error) {
	c, err := NewConfusion(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return c.Accuracy(), nil
}

// ClassMetrics are the scores of one class (or an average row).
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a binary classification report.
type Report struct {
	Classes     [2]ClassMetrics `json:"classes"`
	Accuracy    float64         `json:"accuracy"`
	MacroAvg    ClassMetrics    `json:"macro_avg"`
	WeightedAvg ClassMetrics    `json:"weighted_avg"`
	Confusion   Confusion       `json:"confusion"`
}

// NewReport builds a report for yTrue/yPred; names label class 0 and class 1.
// Undefined ratios (no predicted or no actual members) count as 0.
func NewReport(yTrue, yPred []int, names [2]string) (*Report, error) {
	c, err := NewConfusion(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	r := &Report{Accuracy: c.Accuracy(), Confusion: c}
	total := c.Total()
	for k := range 2 {
		tp := c[k][k]
		predicted := c[0][k] + c[1][k]
		support := c[k][0] + c[k][1]
		m := ClassMetrics{
			Label:     names[k],
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if s := m.Precision + m.Recall; s > 0 {
			m.F1 = 2 * m.Precision * m.Recall / s
		}
		r.Classes[k] = m

		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		if total > 0 {
			w := float64(support) / float64(total)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	r.MacroAvg.Label, r.MacroAvg.Support = "macro avg", total
	r.WeightedAvg.Label, r.WeightedAvg.Support = "weighted avg", total
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// String renders the report as an aligned text table followed by the
// confusion matrix.
func (r *Report) String() string {
	width := len("weighted avg")
	for _, c := range r.Classes {
		width = max(width, len(c.Label))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %10s %10s %10s %10s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(m ClassMetrics) {
		fmt.Fprintf(&b, "%*s %10.2f %10.2f %10.2f %10d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%*s %10s %10s %10.2f %10d\n", width, "accuracy", "", "", r.Accuracy, r.Confusion.Total())
	row(r.MacroAvg)
	row(r.WeightedAvg)

	b.WriteString("\nconfusion matrix (rows: actual, columns: predicted)\n")
	fmt.Fprintf(&b, "%*s %10s %10s\n", width, "", r.Classes[0].Label, r.Classes[1].Label)
	for k := range 2 {
		fmt.Fprintf(&b, "%*s %10d %10d\n", width, r.Classes[k].Label, r.Confusion[k][0], r.Confusion[k][1])
	}
	return b.String()
}
