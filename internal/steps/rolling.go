package steps

import (
	"context"
	"fmt"
	"math"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// DefaultWindow is the rolling window size in elements, not calendar time.
const DefaultWindow = 7

// NewRolling computes trailing mean and standard deviation per logical group
// over an element-count window. The minimum-periods floor is 1, so the
// earliest rows of a group produce a value instead of a gap; a single
// observation has a standard deviation of 0 (population formula).
func NewRolling(name, groupColumn string, valueColumns []string, window int) Step {
	if window <= 0 {
		window = DefaultWindow
	}
	outputs := make([]string, 0, 2*len(valueColumns))
	for _, col := range valueColumns {
		outputs = append(outputs,
			fmt.Sprintf("%s_%dd_avg", col, window),
			fmt.Sprintf("%s_%dd_std", col, window),
		)
	}
	return Step{
		Name:    name,
		Uses:    "rolling",
		Inputs:  []string{BaseInput},
		Outputs: outputs,
		Params: Params{
			"group_column":  groupColumn,
			"value_columns": valueColumns,
			"window":        window,
		},
		Apply: applyRolling,
	}
}

func applyRolling(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	groupColumn := params.String("group_column", "")
	valueColumns := params.Strings("value_columns")
	window := params.Int("window", DefaultWindow)

	groups, err := requireColumn(base, groupColumn)
	if err != nil {
		return Output{}, err
	}

	out := Output{Stats: domain.Metadata{"rows": base.RowCount(), "window": window}}
	for _, col := range valueColumns {
		values, err := requireColumn(base, col)
		if err != nil {
			return Output{}, err
		}
		avg, std := rollingByGroup(groups, values, window)
		out.Columns = append(out.Columns,
			domain.Column{Spec: domain.ColumnSpec{Name: fmt.Sprintf("%s_%dd_avg", col, window), Type: domain.ColumnFloat}, Values: avg},
			domain.Column{Spec: domain.ColumnSpec{Name: fmt.Sprintf("%s_%dd_std", col, window), Type: domain.ColumnFloat}, Values: std},
		)
	}
	return out, nil
}

// rollingByGroup keeps a trailing window per group in original row order.
// Absent source values contribute nothing to the window and yield an absent
// result for their own row.
func rollingByGroup(groups, values []any, window int) ([]any, []any) {
	avg := make([]any, len(values))
	std := make([]any, len(values))
	trailing := make(map[string][]float64)

	for i, v := range values {
		key := groupKey(groups[i])
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		buf := append(trailing[key], f)
		if len(buf) > window {
			buf = buf[len(buf)-window:]
		}
		trailing[key] = buf
		avg[i] = mean(buf)
		std[i] = populationStd(buf)
	}
	return avg, std
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStd(values []float64) float64 {
	if len(values) == 1 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
