// Package prediction estimates remaining breathing apparatus time from a
// linear pressure model and flags anomalous consumption. Every function is
// pure and safe for concurrent use.
package prediction

import (
	"math"

	"baboard/pkg/domain"
)

// Model aliases the persisted calculation model.
type Model = domain.PressureCalculationModel

// Standard linear model end points: 38 minutes at 300 bar down to 17 minutes at 150 bar.
const (
	standardFullPressure = 300
	standardFullMinutes  = 38
	standardLowPressure  = 150
	standardLowMinutes   = 17
)

// DefaultModel returns the standard linear model used when no model has been
// configured.
func DefaultModel() Model {
	slope := float64(standardFullMinutes-standardLowMinutes) / float64(standardFullPressure-standardLowPressure)
	return Model{
		Name:        "Standard Linear Model",
		Description: "Linear model from 38min@300bar to 17min@150bar",
		Slope:       slope,
		Intercept:   standardLowMinutes - slope*standardLowPressure,
		MinPressure: domain.DefaultModelMinPressure,
		MaxPressure: domain.DefaultModelMaxPressure,
		IsDefault:   true,
	}
}

// tieEpsilon keeps products of decimal slopes that land on an exact half
// rounding up despite float representation error.
const tieEpsilon = 1e-9

// EstimateTime returns the remaining minutes predicted by model at pressure.
// The result is rounded to the nearest minute with halves rounded up and is
// never negative. Pressure is used as given; callers clamp beforehand.
func EstimateTime(model Model, pressure int) int {
	minutes := model.Slope*float64(pressure) + model.Intercept
	rounded := math.Floor(minutes + 0.5 + tieEpsilon)
	switch {
	case rounded <= 0 || math.IsNaN(rounded):
		return 0
	case rounded > math.MaxInt32:
		return math.MaxInt32
	}
	return int(rounded)
}

// Estimates pairs the default-model estimate with an optional personalised one.
type Estimates struct {
	Default int  `json:"default"`
	Custom  *int `json:"custom,omitempty"`
}

// EstimateBoth evaluates pressure under the default model and, when custom is
// non-nil, under the custom model too.
func EstimateBoth(defaultModel Model, custom *Model, pressure int) Estimates {
	out := Estimates{Default: EstimateTime(defaultModel, defaultModel.Clamp(pressure))}
	if custom != nil {
		v := EstimateTime(*custom, custom.Clamp(pressure))
		out.Custom = &v
	}
	return out
}

// Trend describes observed consumption for an active entry.
type Trend struct {
	RatePerMinute  float64 `json:"rate_per_minute"`
	ImpliedRate    float64 `json:"implied_rate"`
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	IsHigh         bool    `json:"is_high"`
}

// ConsumptionTrend computes the observed pressure drop per minute for entry
// and compares it with the average rate implied by its governing model. It
// reports false when no time has elapsed between entry and last update.
func ConsumptionTrend(entry domain.BAEntry, model Model) (Trend, bool) {
	if !entry.UpdatedTime.After(entry.EntryTime) {
		return Trend{}, false
	}
	elapsed := entry.UpdatedTime.Sub(entry.EntryTime).Minutes()
	rate := float64(entry.InitialPressure-entry.CurrentPressure) / elapsed
	trend := Trend{RatePerMinute: rate, ElapsedMinutes: elapsed}

	budget := EstimateTime(model, model.Clamp(entry.InitialPressure))
	if budget == 0 {
		// Any consumption against a zero-minute budget is anomalous.
		trend.IsHigh = rate > 0
		return trend, true
	}
	trend.ImpliedRate = float64(entry.InitialPressure-domain.ClosureThreshold) / float64(budget)
	trend.IsHigh = exceedsMargin(rate, trend.ImpliedRate)
	return trend, true
}

// exceedsMargin reports whether observed is more than 20% above implied,
// evaluated as 5*observed > 6*implied so the boundary compares exactly.
func exceedsMargin(observed, implied float64) bool {
	return observed*5 > implied*6
}
