package steps

import (
	"context"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// NewActivityCross links weather rows to agricultural activity aggregated by
// region and day: total irrigation hours, total fertilizer amount, and the
// temperature-irrigation product. Rows without activity for their region and
// day get absent values.
func NewActivityCross(name, activity string) Step {
	return Step{
		Name:   name,
		Uses:   "activity_cross",
		Inputs: []string{BaseInput, activity},
		Outputs: []string{
			"irrigation_hours_total", "fertilizer_total", "temp_irrigation_product",
		},
		Params: Params{
			"activity":           activity,
			"region_column":      "region",
			"date_column":        "observationdate",
			"activity_region":    "region",
			"activity_date":      "activitydate",
			"irrigation_column":  "irrigationhours",
			"fertilizer_column":  "fertilizer_amount",
			"temperature_column": "temperature",
		},
		Apply: applyActivityCross,
	}
}

type activityTotals struct {
	irrigation float64
	fertilizer float64
}

func applyActivityCross(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	activity := inputs[params.String("activity", "")]

	regions, err := requireColumn(base, params.String("region_column", "region"))
	if err != nil {
		return Output{}, err
	}
	dates, err := requireColumn(base, params.String("date_column", "observationdate"))
	if err != nil {
		return Output{}, err
	}
	temps, err := requireColumn(base, params.String("temperature_column", "temperature"))
	if err != nil {
		return Output{}, err
	}

	actRegions, err := requireColumn(activity, params.String("activity_region", "region"))
	if err != nil {
		return Output{}, err
	}
	actDates, err := requireColumn(activity, params.String("activity_date", "activitydate"))
	if err != nil {
		return Output{}, err
	}
	irrigation, err := requireColumn(activity, params.String("irrigation_column", "irrigationhours"))
	if err != nil {
		return Output{}, err
	}
	fertilizer, err := requireColumn(activity, params.String("fertilizer_column", "fertilizer_amount"))
	if err != nil {
		return Output{}, err
	}

	totals := make(map[string]activityTotals)
	for i := range actRegions {
		key := regionDayKey(actRegions[i], actDates[i])
		if key == "" {
			continue
		}
		agg := totals[key]
		if v, ok := asFloat(irrigation[i]); ok {
			agg.irrigation += v
		}
		if v, ok := asFloat(fertilizer[i]); ok {
			agg.fertilizer += v
		}
		totals[key] = agg
	}

	rows := base.RowCount()
	irrigationOut := make([]any, rows)
	fertilizerOut := make([]any, rows)
	productOut := make([]any, rows)
	matched := 0
	for i := 0; i < rows; i++ {
		key := regionDayKey(regions[i], dates[i])
		agg, ok := totals[key]
		if key == "" || !ok {
			continue
		}
		matched++
		irrigationOut[i] = agg.irrigation
		fertilizerOut[i] = agg.fertilizer
		if t, ok := asFloat(temps[i]); ok {
			productOut[i] = t * agg.irrigation
		}
	}

	return Output{
		Columns: []domain.Column{
			{Spec: domain.ColumnSpec{Name: "irrigation_hours_total", Type: domain.ColumnFloat}, Values: irrigationOut},
			{Spec: domain.ColumnSpec{Name: "fertilizer_total", Type: domain.ColumnFloat}, Values: fertilizerOut},
			{Spec: domain.ColumnSpec{Name: "temp_irrigation_product", Type: domain.ColumnFloat}, Values: productOut},
		},
		Stats: domain.Metadata{
			"rows":          rows,
			"matched_rows":  matched,
			"activity_days": len(totals),
		},
	}, nil
}

// regionDayKey joins a region with the calendar day of a timestamp. Either
// side absent means the row cannot be linked.
func regionDayKey(region, date any) string {
	r, ok := region.(string)
	if !ok || r == "" {
		return ""
	}
	ts, ok := date.(time.Time)
	if !ok {
		return ""
	}
	return r + "|" + ts.UTC().Format("2006-01-02")
}
