package steps

import (
	"context"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// RegionUnknown is the fallback category for rows that have no match in the
// lookup snapshot.
const RegionUnknown = "unknown"

// NewStationJoin left-joins the working snapshot against a lookup snapshot,
// carrying the listed lookup columns over. Unmatched rows get the fallback
// category instead of failing the step.
func NewStationJoin(name, lookup, leftKey, rightKey string, take []string) Step {
	return Step{
		Name:    name,
		Uses:    "station_join",
		Inputs:  []string{BaseInput, lookup},
		Outputs: append([]string(nil), take...),
		Params: Params{
			"lookup":    lookup,
			"left_key":  leftKey,
			"right_key": rightKey,
			"take":      take,
		},
		Apply: applyStationJoin,
	}
}

func applyStationJoin(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	lookup := inputs[params.String("lookup", "")]
	leftKey := params.String("left_key", "")
	rightKey := params.String("right_key", "")
	take := params.Strings("take")

	leftKeys, err := requireColumn(base, leftKey)
	if err != nil {
		return Output{}, err
	}
	rightKeys, err := requireColumn(lookup, rightKey)
	if err != nil {
		return Output{}, err
	}

	// First occurrence wins when the lookup key repeats.
	index := make(map[string]int, len(rightKeys))
	for i, v := range rightKeys {
		key := groupKey(v)
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}

	out := Output{Stats: domain.Metadata{"rows": base.RowCount()}}
	unmatched := 0
	for _, column := range take {
		source, err := requireColumn(lookup, column)
		if err != nil {
			return Output{}, err
		}
		values := make([]any, len(leftKeys))
		for i, v := range leftKeys {
			if at, ok := index[groupKey(v)]; ok && source[at] != nil {
				values[i] = asCategory(source[at])
			} else {
				values[i] = RegionUnknown
				unmatched++
			}
		}
		out.Columns = append(out.Columns, domain.Column{
			Spec:   domain.ColumnSpec{Name: column, Type: domain.ColumnCategory},
			Values: values,
		})
	}
	out.Stats["unmatched_cells"] = unmatched
	return out, nil
}

func asCategory(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return groupKey(v)
}
