package model

import "math"

// Metrics summarizes regression quality on a holdout set.
type Metrics struct {
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	R2             float64 `json:"r2"`
	TrainRows      int     `json:"train_rows"`
	ValidationRows int     `json:"validation_rows"`
}

// Evaluate computes MAE, RMSE and R² of predicted against actual.
func Evaluate(actual, predicted []float64) Metrics {
	n := len(actual)
	if n == 0 {
		return Metrics{}
	}
	mu := mean(actual)
	var absSum, sqSum, totSum float64
	for i := range actual {
		d := predicted[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
		t := actual[i] - mu
		totSum += t * t
	}
	m := Metrics{
		MAE:            absSum / float64(n),
		RMSE:           math.Sqrt(sqSum / float64(n)),
		ValidationRows: n,
	}
	if totSum > 0 {
		m.R2 = 1 - sqSum/totSum
	}
	return m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mu := mean(xs)
	var s float64
	for _, x := range xs {
		d := x - mu
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)))
}
