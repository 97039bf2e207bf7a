package steps

import (
	"context"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// DefaultEpsilon substitutes a zero denominator in ratio features. The
// substitution is a deliberate approximation: a zero denominator yields a
// large finite ratio instead of infinity or an error, and the policy is
// fixed here for every ratio feature rather than chosen per caller.
const DefaultEpsilon = 1e-9

// NewRatio divides one column of the working snapshot by another. Rows with
// an absent numerator or denominator produce an absent ratio.
func NewRatio(name, numerator, denominator, output string, epsilon float64) Step {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return Step{
		Name:    name,
		Uses:    "ratio",
		Inputs:  []string{BaseInput},
		Outputs: []string{output},
		Params: Params{
			"numerator":   numerator,
			"denominator": denominator,
			"output":      output,
			"epsilon":     epsilon,
		},
		Apply: applyRatio,
	}
}

func applyRatio(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	numerator := params.String("numerator", "")
	denominator := params.String("denominator", "")
	output := params.String("output", "")
	epsilon := params.Float("epsilon", DefaultEpsilon)

	nums, err := requireColumn(base, numerator)
	if err != nil {
		return Output{}, err
	}
	dens, err := requireColumn(base, denominator)
	if err != nil {
		return Output{}, err
	}

	ratios := make([]any, base.RowCount())
	substituted := 0
	for i := range ratios {
		n, okN := asFloat(nums[i])
		d, okD := asFloat(dens[i])
		if !okN || !okD {
			continue
		}
		if d == 0 {
			d = epsilon
			substituted++
		}
		ratios[i] = n / d
	}

	return Output{
		Columns: []domain.Column{
			{Spec: domain.ColumnSpec{Name: output, Type: domain.ColumnFloat}, Values: ratios},
		},
		Stats: domain.Metadata{
			"rows":              base.RowCount(),
			"zero_denominators": substituted,
			"epsilon":           epsilon,
		},
	}, nil
}
