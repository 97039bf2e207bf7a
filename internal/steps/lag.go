package steps

import (
	"context"
	"fmt"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// NewLag shifts a column by k positions within each group. The first k rows
// of a group are intentionally left absent: that is the correct
// representation of "no historical data" and is never imputed.
func NewLag(name, groupColumn, valueColumn string, lags []int) Step {
	outputs := make([]string, 0, len(lags))
	for _, k := range lags {
		outputs = append(outputs, fmt.Sprintf("%s_lag_%dd", valueColumn, k))
	}
	return Step{
		Name:    name,
		Uses:    "lag",
		Inputs:  []string{BaseInput},
		Outputs: outputs,
		Params: Params{
			"group_column": groupColumn,
			"value_column": valueColumn,
			"lags":         lags,
		},
		Apply: applyLag,
	}
}

func applyLag(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	groupColumn := params.String("group_column", "")
	valueColumn := params.String("value_column", "")
	lags := params.Ints("lags")
	if len(lags) == 0 {
		return Output{}, domain.NewFailure(domain.FailureComputation, "step requires at least one lag period")
	}

	groups, err := requireColumn(base, groupColumn)
	if err != nil {
		return Output{}, err
	}
	values, err := requireColumn(base, valueColumn)
	if err != nil {
		return Output{}, err
	}

	valueType, _ := base.Schema().TypeOf(valueColumn)

	// Row indices per group in original order.
	order := make(map[string][]int)
	for i := range values {
		key := groupKey(groups[i])
		order[key] = append(order[key], i)
	}

	out := Output{Stats: domain.Metadata{"rows": base.RowCount(), "lags": lags}}
	for _, k := range lags {
		if k <= 0 {
			return Output{}, domain.NewFailure(domain.FailureComputation, "lag period must be positive, got %d", k)
		}
		shifted := make([]any, len(values))
		for _, rows := range order {
			for pos, row := range rows {
				if pos >= k {
					shifted[row] = values[rows[pos-k]]
				}
			}
		}
		out.Columns = append(out.Columns, domain.Column{
			Spec:   domain.ColumnSpec{Name: fmt.Sprintf("%s_lag_%dd", valueColumn, k), Type: valueType},
			Values: shifted,
		})
	}
	return out, nil
}
