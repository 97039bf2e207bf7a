package steps

import (
	"fmt"
	"strings"
)

// Build resolves a declared step to a builtin implementation. Pipeline
// documents reference builtins by their "uses" identifier; unknown
// identifiers and missing parameters are declaration errors, not runtime
// failures.
func Build(uses, name string, params Params) (Step, error) {
	if params == nil {
		params = Params{}
	}
	switch strings.TrimSpace(uses) {
	case "temporal":
		return NewTemporal(name, params.String("date_column", "observationdate")), nil
	case "rolling":
		group := params.String("group_column", "")
		columns := params.Strings("value_columns")
		if group == "" || len(columns) == 0 {
			return Step{}, fmt.Errorf("step %q: rolling requires group_column and value_columns", name)
		}
		return NewRolling(name, group, columns, params.Int("window", DefaultWindow)), nil
	case "lag":
		group := params.String("group_column", "")
		column := params.String("value_column", "")
		lags := params.Ints("lags")
		if group == "" || column == "" || len(lags) == 0 {
			return Step{}, fmt.Errorf("step %q: lag requires group_column, value_column and lags", name)
		}
		return NewLag(name, group, column, lags), nil
	case "ratio":
		numerator := params.String("numerator", "")
		denominator := params.String("denominator", "")
		output := params.String("output", "")
		if numerator == "" || denominator == "" || output == "" {
			return Step{}, fmt.Errorf("step %q: ratio requires numerator, denominator and output", name)
		}
		return NewRatio(name, numerator, denominator, output, params.Float("epsilon", DefaultEpsilon)), nil
	case "station_join":
		lookup := params.String("lookup", "")
		leftKey := params.String("left_key", "")
		rightKey := params.String("right_key", "")
		take := params.Strings("take")
		if lookup == "" || leftKey == "" || rightKey == "" || len(take) == 0 {
			return Step{}, fmt.Errorf("step %q: station_join requires lookup, left_key, right_key and take", name)
		}
		return NewStationJoin(name, lookup, leftKey, rightKey, take), nil
	case "unit_convert":
		units := params.String("units", "")
		value := params.String("value_column", "")
		unit := params.String("unit_column", "")
		output := params.String("output", "")
		if units == "" || value == "" || unit == "" || output == "" {
			return Step{}, fmt.Errorf("step %q: unit_convert requires units, value_column, unit_column and output", name)
		}
		return NewUnitConvert(name, units, value, unit, output), nil
	case "regional_agg":
		group := params.String("group_column", "")
		if group == "" {
			return Step{}, fmt.Errorf("step %q: regional_agg requires group_column", name)
		}
		step := NewRegionalAgg(name, group, params.Float("epsilon", DefaultDeviationEpsilon))
		for key, value := range params {
			step.Params[key] = value
		}
		return step, nil
	case "activity_cross":
		activity := params.String("activity", "")
		if activity == "" {
			return Step{}, fmt.Errorf("step %q: activity_cross requires activity", name)
		}
		step := NewActivityCross(name, activity)
		for key, value := range params {
			step.Params[key] = value
		}
		return step, nil
	default:
		return Step{}, fmt.Errorf("step %q: unknown builtin %q", name, uses)
	}
}
