package pipeline

import "github.com/terrafield-labs/featureline/internal/steps"

// Dataset names the default pipeline pulls from the catalog.
const (
	DatasetWeather  = "weather"
	DatasetStations = "stations"
	DatasetActivity = "activity"
	DatasetUnits    = "reference_units"
)

// DefaultVersions returns the built-in two-version agronomy pipeline.
//
// v1 enriches raw weather readings with station attributes, calendar
// features, trailing 7-day rolling statistics, and rainfall standardized to
// millimetres via the reference unit table. v2 builds on the v1 artifact,
// joining field activity aggregates and deriving ratio, lag and regional
// profile features. Each version commits independently, so a v2 input
// problem never invalidates a committed v1 artifact.
func DefaultVersions() []VersionSpec {
	return []VersionSpec{
		{
			Label:     "v1",
			Base:      DatasetWeather,
			DependsOn: []string{DatasetWeather, DatasetStations, DatasetUnits},
			Steps: []steps.Step{
				steps.NewStationJoin("station_attributes", DatasetStations, "stationid", "stationcode", []string{"region", "region_type"}),
				steps.NewTemporal("calendar", "observationdate"),
				steps.NewRolling("trailing_weather", "stationid", []string{"rainfall", "temperature"}, steps.DefaultWindow),
				steps.NewUnitConvert("unit_standardize", DatasetUnits, "rainfall", "rain_unit", "rainfall_mm"),
			},
		},
		{
			Label:     "v2",
			Base:      "v1",
			DependsOn: []string{"v1", DatasetActivity},
			Steps: []steps.Step{
				steps.NewActivityCross("field_activity", DatasetActivity),
				steps.NewRatio("rainfall_irrigation", "rainfall", "irrigation_hours_total", "rainfall_irrigation_ratio", steps.DefaultEpsilon),
				steps.NewLag("rainfall_lags", "region", "rainfall", []int{1, 3, 7}),
				steps.NewLag("temperature_lags", "region", "temperature", []int{1, 7}),
				steps.NewRegionalAgg("regional_profile", "region", steps.DefaultDeviationEpsilon),
			},
		},
	}
}
