package steps

import (
	"context"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// SeasonUnknown is the fallback category for rows whose source date is
// missing or unparseable. Calendar derivations never raise on bad input.
const SeasonUnknown = "unknown"

// NewTemporal derives calendar features from a timestamp column of the
// working snapshot: day_of_week (0=Monday), month, day_of_year,
// week_of_year (ISO), is_weekend and the agricultural season.
func NewTemporal(name, dateColumn string) Step {
	return Step{
		Name:   name,
		Uses:   "temporal",
		Inputs: []string{BaseInput},
		Outputs: []string{
			"day_of_week", "month", "day_of_year", "week_of_year", "is_weekend", "season",
		},
		Params: Params{"date_column": dateColumn},
		Apply:  applyTemporal,
	}
}

func applyTemporal(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	dateColumn := params.String("date_column", "observationdate")
	dates, err := requireColumn(base, dateColumn)
	if err != nil {
		return Output{}, err
	}

	rows := base.RowCount()
	dayOfWeek := make([]any, rows)
	month := make([]any, rows)
	dayOfYear := make([]any, rows)
	weekOfYear := make([]any, rows)
	isWeekend := make([]any, rows)
	season := make([]any, rows)

	missing := 0
	for i, v := range dates {
		ts, ok := v.(time.Time)
		if !ok {
			missing++
			season[i] = SeasonUnknown
			continue
		}
		dow := (int64(ts.Weekday()) + 6) % 7
		dayOfWeek[i] = dow
		month[i] = int64(ts.Month())
		dayOfYear[i] = int64(ts.YearDay())
		_, week := ts.ISOWeek()
		weekOfYear[i] = int64(week)
		if dow >= 5 {
			isWeekend[i] = int64(1)
		} else {
			isWeekend[i] = int64(0)
		}
		season[i] = seasonOf(ts.Month())
	}

	return Output{
		Columns: []domain.Column{
			{Spec: domain.ColumnSpec{Name: "day_of_week", Type: domain.ColumnInteger}, Values: dayOfWeek},
			{Spec: domain.ColumnSpec{Name: "month", Type: domain.ColumnInteger}, Values: month},
			{Spec: domain.ColumnSpec{Name: "day_of_year", Type: domain.ColumnInteger}, Values: dayOfYear},
			{Spec: domain.ColumnSpec{Name: "week_of_year", Type: domain.ColumnInteger}, Values: weekOfYear},
			{Spec: domain.ColumnSpec{Name: "is_weekend", Type: domain.ColumnInteger}, Values: isWeekend},
			{Spec: domain.ColumnSpec{Name: "season", Type: domain.ColumnCategory}, Values: season},
		},
		Stats: domain.Metadata{
			"rows":          rows,
			"missing_dates": missing,
		},
	}, nil
}

// seasonOf maps a month to the northern-hemisphere agricultural season.
func seasonOf(m time.Month) string {
	switch m {
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	case time.September, time.October, time.November:
		return "fall"
	default:
		return "winter"
	}
}
