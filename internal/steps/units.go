package steps

import (
	"context"
	"strings"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// NewUnitConvert converts a measurement column to its standard unit using a
// conversion table snapshot with unit and conversion_factor columns. Rows
// whose unit is absent or not in the table keep their original value, and a
// working snapshot without the unit column passes every value through
// unchanged.
func NewUnitConvert(name, units, valueColumn, unitColumn, output string) Step {
	return Step{
		Name:    name,
		Uses:    "unit_convert",
		Inputs:  []string{BaseInput, units},
		Outputs: []string{output},
		Params: Params{
			"units":        units,
			"value_column": valueColumn,
			"unit_column":  unitColumn,
			"output":       output,
			"table_unit":   "unit",
			"table_factor": "conversion_factor",
		},
		Apply: applyUnitConvert,
	}
}

func applyUnitConvert(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	table := inputs[params.String("units", "")]
	output := params.String("output", "")

	values, err := requireColumn(base, params.String("value_column", ""))
	if err != nil {
		return Output{}, err
	}
	tableUnits, err := requireColumn(table, params.String("table_unit", "unit"))
	if err != nil {
		return Output{}, err
	}
	tableFactors, err := requireColumn(table, params.String("table_factor", "conversion_factor"))
	if err != nil {
		return Output{}, err
	}

	// Unit names match case-insensitively; a repeated unit keeps its first
	// factor.
	factors := make(map[string]float64, len(tableUnits))
	for i, u := range tableUnits {
		unit, ok := u.(string)
		if !ok || unit == "" {
			continue
		}
		key := strings.ToLower(unit)
		if _, exists := factors[key]; exists {
			continue
		}
		if f, ok := asFloat(tableFactors[i]); ok {
			factors[key] = f
		}
	}

	units, hasUnits := base.Column(params.String("unit_column", ""))

	converted := 0
	result := make([]any, len(values))
	for i, v := range values {
		f, ok := asFloat(v)
		if !ok {
			continue
		}
		if hasUnits {
			if u, ok := units[i].(string); ok {
				if factor, known := factors[strings.ToLower(u)]; known {
					f *= factor
					converted++
				}
			}
		}
		result[i] = f
	}

	return Output{
		Columns: []domain.Column{
			{Spec: domain.ColumnSpec{Name: output, Type: domain.ColumnFloat}, Values: result},
		},
		Stats: domain.Metadata{
			"rows":           len(values),
			"converted_rows": converted,
			"known_units":    len(factors),
		},
	}, nil
}
