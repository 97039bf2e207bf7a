package steps

import (
	"context"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// DefaultDeviationEpsilon pads the regional standard deviation so a z-score
// stays finite when every station in a region reports the same value.
const DefaultDeviationEpsilon = 1e-6

// NewRegionalAgg profiles each region: rainfall total, mean and standard
// deviation, temperature mean and standard deviation, the distinct station
// count, and per-row deviations of rainfall and temperature from the
// regional average, scaled by the padded standard deviation.
func NewRegionalAgg(name, groupColumn string, epsilon float64) Step {
	if epsilon <= 0 {
		epsilon = DefaultDeviationEpsilon
	}
	return Step{
		Name:   name,
		Uses:   "regional_agg",
		Inputs: []string{BaseInput},
		Outputs: []string{
			"regional_rainfall_total", "regional_rainfall_mean", "regional_rainfall_std",
			"regional_temperature_mean", "regional_temperature_std",
			"regional_station_count",
			"station_vs_regional_rainfall", "station_vs_regional_temp",
		},
		Params: Params{
			"group_column":       groupColumn,
			"rainfall_column":    "rainfall",
			"temperature_column": "temperature",
			"station_column":     "stationid",
			"epsilon":            epsilon,
		},
		Apply: applyRegionalAgg,
	}
}

type regionProfile struct {
	rain     []float64
	temp     []float64
	stations map[string]struct{}
}

func applyRegionalAgg(ctx context.Context, inputs map[string]*domain.Snapshot, params Params) (Output, error) {
	base := inputs[BaseInput]
	epsilon := params.Float("epsilon", DefaultDeviationEpsilon)

	groups, err := requireColumn(base, params.String("group_column", "region"))
	if err != nil {
		return Output{}, err
	}
	rainfall, err := requireColumn(base, params.String("rainfall_column", "rainfall"))
	if err != nil {
		return Output{}, err
	}
	temperature, err := requireColumn(base, params.String("temperature_column", "temperature"))
	if err != nil {
		return Output{}, err
	}
	stations, err := requireColumn(base, params.String("station_column", "stationid"))
	if err != nil {
		return Output{}, err
	}

	profiles := make(map[string]*regionProfile)
	rows := base.RowCount()
	for i := 0; i < rows; i++ {
		key := groupKey(groups[i])
		p := profiles[key]
		if p == nil {
			p = &regionProfile{stations: make(map[string]struct{})}
			profiles[key] = p
		}
		if v, ok := asFloat(rainfall[i]); ok {
			p.rain = append(p.rain, v)
		}
		if v, ok := asFloat(temperature[i]); ok {
			p.temp = append(p.temp, v)
		}
		if stations[i] != nil {
			p.stations[groupKey(stations[i])] = struct{}{}
		}
	}

	rainTotal := make([]any, rows)
	rainMean := make([]any, rows)
	rainStd := make([]any, rows)
	tempMean := make([]any, rows)
	tempStd := make([]any, rows)
	stationCount := make([]any, rows)
	rainDev := make([]any, rows)
	tempDev := make([]any, rows)
	for i := 0; i < rows; i++ {
		p := profiles[groupKey(groups[i])]
		stationCount[i] = int64(len(p.stations))
		if len(p.rain) > 0 {
			m, s := mean(p.rain), populationStd(p.rain)
			rainTotal[i] = sum(p.rain)
			rainMean[i] = m
			rainStd[i] = s
			if v, ok := asFloat(rainfall[i]); ok {
				rainDev[i] = (v - m) / (s + epsilon)
			}
		}
		if len(p.temp) > 0 {
			m, s := mean(p.temp), populationStd(p.temp)
			tempMean[i] = m
			tempStd[i] = s
			if v, ok := asFloat(temperature[i]); ok {
				tempDev[i] = (v - m) / (s + epsilon)
			}
		}
	}

	return Output{
		Columns: []domain.Column{
			{Spec: domain.ColumnSpec{Name: "regional_rainfall_total", Type: domain.ColumnFloat}, Values: rainTotal},
			{Spec: domain.ColumnSpec{Name: "regional_rainfall_mean", Type: domain.ColumnFloat}, Values: rainMean},
			{Spec: domain.ColumnSpec{Name: "regional_rainfall_std", Type: domain.ColumnFloat}, Values: rainStd},
			{Spec: domain.ColumnSpec{Name: "regional_temperature_mean", Type: domain.ColumnFloat}, Values: tempMean},
			{Spec: domain.ColumnSpec{Name: "regional_temperature_std", Type: domain.ColumnFloat}, Values: tempStd},
			{Spec: domain.ColumnSpec{Name: "regional_station_count", Type: domain.ColumnInteger}, Values: stationCount},
			{Spec: domain.ColumnSpec{Name: "station_vs_regional_rainfall", Type: domain.ColumnFloat}, Values: rainDev},
			{Spec: domain.ColumnSpec{Name: "station_vs_regional_temp", Type: domain.ColumnFloat}, Values: tempDev},
		},
		Stats: domain.Metadata{
			"rows":    rows,
			"regions": len(profiles),
		},
	}, nil
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
