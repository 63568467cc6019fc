// Package forecast extrapolates per-period demand with a least-squares linear trend.
//
// Predictions are a pure function of the input series. With fewer than
// MinHistory periods the model is not fitted: the mean is returned with a wide
// interval and no accuracy, flagged LowConfidence. MinHistory is never below
// three: two points fit any line exactly and leave no residual spread.
package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
)

// z95 is the two-sided 95% normal quantile.
const z95 = 1.96

// minFitted is the fewest periods a trend is fitted on.
const minFitted = 3

// Point is the observed demand of one period.
type Point struct {
	Period time.Time `json:"period"`
	Demand float64   `json:"demand"`
}

// Series is the demand history of one (model, region).
type Series struct {
	ModelID     string
	Region      string
	Granularity coreagg.Granularity
	// Points are consecutive periods in ascending order, zero-demand periods included.
	Points []Point
	// Next is the start of the first period to forecast.
	Next time.Time
}

type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type Forecast struct {
	ModelID            string    `json:"modelId"`
	Region             string    `json:"region"`
	ForecastDate       time.Time `json:"forecastDate"`
	PredictedDemand    float64   `json:"predictedDemand"`
	ConfidenceInterval Interval  `json:"confidenceInterval"`
	// Accuracy is 100 minus the in-sample mean absolute percentage error; nil when not fitted.
	Accuracy      *float64 `json:"accuracy,omitempty"`
	LowConfidence bool     `json:"lowConfidence"`
}

type Options struct {
	MinHistory int
}

// Predict forecasts horizon periods following s.Next.
func Predict(s Series, horizon int, opts Options) []Forecast {
	if horizon <= 0 {
		horizon = 1
	}
	minHistory := opts.MinHistory
	if minHistory < minFitted {
		minHistory = minFitted
	}

	var fc []Forecast
	if len(s.Points) < minHistory {
		fc = fallback(s.Points, horizon)
	} else {
		fc = fitted(s.Points, horizon)
	}

	next := s.Next
	for i := range fc {
		fc[i].ModelID = s.ModelID
		fc[i].Region = s.Region
		fc[i].ForecastDate = next
		next = coreagg.NextBucket(next, s.Granularity)
	}
	return fc
}

// trend is an ordinary least-squares fit of demand on period index.
type trend struct {
	n         int
	slope     float64
	intercept float64
	meanX     float64
	sxx       float64
	stdErr    float64
}

func fit(points []Point) trend {
	n := len(points)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.Demand
	}

	t := trend{n: n, meanX: stat.Mean(xs, nil)}
	t.intercept, t.slope = stat.LinearRegression(xs, ys, nil, false)
	for _, x := range xs {
		dx := x - t.meanX
		t.sxx += dx * dx
	}

	if n >= minFitted {
		var sse float64
		for i, y := range ys {
			r := y - t.at(xs[i])
			sse += r * r
		}
		t.stdErr = math.Sqrt(sse / float64(n-2))
	}
	return t
}

func (t trend) at(x float64) float64 { return t.intercept + t.slope*x }

// halfWidth is the 95% prediction interval half-width at x.
func (t trend) halfWidth(x float64) float64 {
	spread := 1 + 1/float64(t.n)
	if t.sxx > 0 {
		dx := x - t.meanX
		spread += dx * dx / t.sxx
	}
	return z95 * t.stdErr * math.Sqrt(spread)
}

func fitted(points []Point, horizon int) []Forecast {
	t := fit(points)
	acc := accuracy(points, t)

	out := make([]Forecast, horizon)
	for h := 0; h < horizon; h++ {
		x := float64(len(points) + h)
		predicted := math.Max(0, t.at(x))
		hw := t.halfWidth(x)
		out[h] = Forecast{
			PredictedDemand: round2(predicted),
			ConfidenceInterval: Interval{
				Lower: round2(math.Max(0, predicted-hw)),
				Upper: round2(predicted + hw),
			},
			Accuracy: acc,
		}
	}
	return out
}

// accuracy is 100 - MAPE of the in-sample fit over periods with non-zero demand, clamped to [0, 100].
func accuracy(points []Point, t trend) *float64 {
	var sum float64
	var n int
	for i, p := range points {
		if p.Demand == 0 {
			continue
		}
		sum += math.Abs((p.Demand - t.at(float64(i))) / p.Demand)
		n++
	}
	if n == 0 {
		return nil
	}
	a := round2(math.Min(100, math.Max(0, 100-100*sum/float64(n))))
	return &a
}

// fallback predicts the mean of whatever history exists with an interval
// spanning zero to three times the mean (at least one unit).
func fallback(points []Point, horizon int) []Forecast {
	var mean float64
	for _, p := range points {
		mean += p.Demand
	}
	if len(points) > 0 {
		mean /= float64(len(points))
	}
	width := math.Max(2*mean, 1)

	out := make([]Forecast, horizon)
	for h := range out {
		out[h] = Forecast{
			PredictedDemand: round2(mean),
			ConfidenceInterval: Interval{
				Lower: 0,
				Upper: round2(mean + width),
			},
			LowConfidence: true,
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
