// Package metrics computes confusion-matrix statistics over the reconciled
// study population.
package metrics

import "encoding/json"

// Ratio is a diagnostic-performance ratio that may be undefined when its
// denominator is zero. Undefined serializes as JSON null, never as NaN or a
// substituted zero.
type Ratio struct {
	Value   float64
	Defined bool
}

// NewRatio divides num by den, returning an undefined Ratio when den is
// zero.
func NewRatio(num, den int) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: float64(num) / float64(den), Defined: true}
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	r.Defined = true
	return json.Unmarshal(data, &r.Value)
}

// Counts is the confusion matrix over the classified population.
type Counts struct {
	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Classified is the number of studies contributing to the matrix.
func (c Counts) Classified() int {
	return c.TP + c.TN + c.FP + c.FN
}

// Report is the statistics output for one filtered population. Studies
// without an active classification are counted but excluded from every
// ratio, so dashboards can show review coverage.
type Report struct {
	Counts       Counts `json:"counts"`
	Total        int    `json:"total"`
	Unclassified int    `json:"unclassified"`

	Sensitivity Ratio `json:"sensitivity"`
	Specificity Ratio `json:"specificity"`
	Accuracy    Ratio `json:"accuracy"`
	PPV         Ratio `json:"ppv"`
	NPV         Ratio `json:"npv"`
	F1          Ratio `json:"f1"`
}

// NewReport derives the ratios from the counted population.
func NewReport(counts Counts, unclassified int) *Report {
	return &Report{
		Counts:       counts,
		Total:        counts.Classified() + unclassified,
		Unclassified: unclassified,
		Sensitivity:  NewRatio(counts.TP, counts.TP+counts.FN),
		Specificity:  NewRatio(counts.TN, counts.TN+counts.FP),
		Accuracy:     NewRatio(counts.TP+counts.TN, counts.Classified()),
		PPV:          NewRatio(counts.TP, counts.TP+counts.FP),
		NPV:          NewRatio(counts.TN, counts.TN+counts.FN),
		F1:           NewRatio(2*counts.TP, 2*counts.TP+counts.FP+counts.FN),
	}
}
