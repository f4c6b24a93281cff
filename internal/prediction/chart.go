package prediction

import "sort"

// StandardChart is the published pressure (bar) to duration (minutes) table
// for a standard cylinder in 10 bar steps.
var StandardChart = map[int]float64{
	300: 38, 290: 37, 280: 35, 270: 34, 260: 32,
	250: 31, 240: 30, 230: 29, 220: 28, 210: 27,
	200: 25, 190: 23, 180: 22, 170: 20, 160: 19,
	150: 17,
}

// StandardTime returns the chart duration for pressure, interpolating
// linearly between neighbouring points. Pressures outside the chart take the
// nearest end point.
func StandardTime(pressure int) float64 {
	if v, ok := StandardChart[pressure]; ok {
		return v
	}
	points := chartPressures()
	if pressure <= points[0] {
		return StandardChart[points[0]]
	}
	last := points[len(points)-1]
	if pressure >= last {
		return StandardChart[last]
	}
	i := sort.SearchInts(points, pressure)
	p1, p2 := points[i-1], points[i]
	t1, t2 := StandardChart[p1], StandardChart[p2]
	return t1 + (t2-t1)*float64(pressure-p1)/float64(p2-p1)
}

func chartPressures() []int {
	points := make([]int, 0, len(StandardChart))
	for p := range StandardChart {
		points = append(points, p)
	}
	sort.Ints(points)
	return points
}

// Report summarises what a model predicts across the usable pressure range.
type Report struct {
	ModelID     string  `json:"model_id,omitempty"`
	Name        string  `json:"name"`
	AtFull      int     `json:"minutes_at_300"`
	AtMid       int     `json:"minutes_at_200"`
	AtThreshold int     `json:"minutes_at_150"`
	AverageRate float64 `json:"average_rate_bar_per_min"`
	// MaxChartDeviation is the largest absolute difference in minutes between
	// the model and the standard chart.
	MaxChartDeviation float64 `json:"max_chart_deviation_min"`
}

// Verify builds a Report for model. AverageRate is zero when the model
// predicts no time difference between 300 and 150 bar.
func Verify(model Model) Report {
	r := Report{
		ModelID:     model.ID,
		Name:        model.Name,
		AtFull:      EstimateTime(model, 300),
		AtMid:       EstimateTime(model, 200),
		AtThreshold: EstimateTime(model, 150),
	}
	if span := r.AtFull - r.AtThreshold; span != 0 {
		r.AverageRate = float64(300-150) / float64(span)
	}
	for p, want := range StandardChart {
		diff := float64(EstimateTime(model, p)) - want
		if diff < 0 {
			diff = -diff
		}
		if diff > r.MaxChartDeviation {
			r.MaxChartDeviation = diff
		}
	}
	return r
}
