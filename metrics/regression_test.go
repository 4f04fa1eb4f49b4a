package metrics

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/equipml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestMSE(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   *mat.VecDense
		yPred   *mat.VecDense
		want    float64
		wantErr bool
	}{
		{
			name:  "perfect prediction",
			yTrue: mat.NewVecDense(5, []float64{1, 2, 3, 4, 5}),
			yPred: mat.NewVecDense(5, []float64{1, 2, 3, 4, 5}),
			want:  0,
		},
		{
			name:  "simple case",
			yTrue: mat.NewVecDense(4, []float64{1, 2, 3, 4}),
			yPred: mat.NewVecDense(4, []float64{1.5, 2.5, 2.5, 3.5}),
			want:  0.25, // (0.25 * 4) / 4
		},
		{
			name:  "larger errors",
			yTrue: mat.NewVecDense(3, []float64{10, 20, 30}),
			yPred: mat.NewVecDense(3, []float64{12, 18, 33}),
			want:  17.0 / 3.0,
		},
		{
			name:    "dimension mismatch",
			yTrue:   mat.NewVecDense(3, []float64{1, 2, 3}),
			yPred:   mat.NewVecDense(2, []float64{1, 2}),
			wantErr: true,
		},
		{
			name:    "empty vectors",
			yTrue:   &mat.VecDense{},
			yPred:   &mat.VecDense{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MSE(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MSE() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("MSE() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMAEAndRMSE(t *testing.T) {
	yTrue := mat.NewVecDense(3, []float64{10, 20, 30})
	yPred := mat.NewVecDense(3, []float64{12, 18, 33})

	mae, err := MAE(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mae-7.0/3.0) > 1e-10 {
		t.Errorf("MAE() = %v, want %v", mae, 7.0/3.0)
	}

	rmse, err := RMSE(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(rmse-math.Sqrt(17.0/3.0)) > 1e-10 {
		t.Errorf("RMSE() = %v, want %v", rmse, math.Sqrt(17.0/3.0))
	}
}

func TestR2Score(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []float64
		yPred []float64
		want  float64
	}{
		{"perfect", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"mean predictor", []float64{1, 2, 3}, []float64{2, 2, 2}, 0},
		{"worse than mean", []float64{1, 2, 3}, []float64{3, 2, 1}, -3},
		{"partial fit", []float64{3, -0.5, 2, 7}, []float64{2.5, 0, 2, 8}, 0.9486081370449679},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := len(tt.yTrue)
			got, err := R2Score(mat.NewVecDense(n, tt.yTrue), mat.NewVecDense(n, tt.yPred))
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("R2Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestR2ScoreConstantTarget(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	// 目的変数が定数の場合は完全一致なら1、そうでなければ0
	got, err := R2Score(mat.NewVecDense(3, []float64{5, 5, 5}), mat.NewVecDense(3, []float64{5, 5, 5}))
	if err != nil || got != 1 {
		t.Errorf("R2Score(constant, exact) = %v, %v; want 1, nil", got, err)
	}
	got, err = R2Score(mat.NewVecDense(3, []float64{5, 5, 5}), mat.NewVecDense(3, []float64{4, 5, 6}))
	if err != nil || got != 0 {
		t.Errorf("R2Score(constant, inexact) = %v, %v; want 0, nil", got, err)
	}

	if len(warnings) != 2 {
		t.Fatalf("got %d warnings, want 2", len(warnings))
	}
	var w *errors.UndefinedMetricWarning
	if !errors.As(warnings[0], &w) {
		t.Errorf("warning = %T, want *UndefinedMetricWarning", warnings[0])
	}
}

func TestEvaluateRegression(t *testing.T) {
	yTrue := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	yPred := mat.NewVecDense(4, []float64{1.5, 2.5, 2.5, 3.5})

	r, err := EvaluateRegression(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r.MSE-0.25) > 1e-10 || math.Abs(r.MAE-0.5) > 1e-10 || math.Abs(r.RMSE-0.5) > 1e-10 {
		t.Errorf("EvaluateRegression() = %+v", r)
	}
	if math.Abs(r.R2-0.8) > 1e-10 {
		t.Errorf("R2 = %v, want 0.8", r.R2)
	}
}

func TestColumnVector(t *testing.T) {
	m := mat.NewDense(3, 1, []float64{1, 2, 3})
	v := ColumnVector(m)
	if v.Len() != 3 || v.AtVec(2) != 3 {
		t.Errorf("ColumnVector() = %v", mat.Formatted(v))
	}
}
