package metrics

import (
	"context"

	"github.com/radrecon/radrecon/internal/domain/study"
)

// PopulationSource yields the filtered studies with their active
// classifications loaded.
type PopulationSource interface {
	QueryReconciledPopulation(ctx context.Context, f study.Filter) ([]*study.Study, error)
}

type Service struct {
	src PopulationSource
}

func NewService(src PopulationSource) *Service {
	return &Service{src: src}
}

// Compute counts the reconciled classifications of the filtered population
// and derives the confusion-matrix ratios. The AI verdict's DOUBT folding
// happened at ingestion; here only the reconciled human values count.
func (s *Service) Compute(ctx context.Context, f study.Filter) (*Report, error) {
	studies, err := s.src.QueryReconciledPopulation(ctx, f)
	if err != nil {
		return nil, err
	}

	var counts Counts
	unclassified := 0
	for _, st := range studies {
		v := st.Reconciled()
		if v == nil {
			unclassified++
			continue
		}
		switch *v {
		case study.ValueTP:
			counts.TP++
		case study.ValueTN:
			counts.TN++
		case study.ValueFP:
			counts.FP++
		case study.ValueFN:
			counts.FN++
		}
	}

	return NewReport(counts, unclassified), nil
}
