package dispatch

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model"
	"github.com/dyluth/effectd/pkg/model/linear"
	"github.com/dyluth/effectd/pkg/model/tree"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fnModel struct {
	n  int
	fn func(x []float64) (float64, error)
}

func (m fnModel) NumFeatures() int                       { return m.n }
func (m fnModel) Predict(x []float64) (float64, error) { return m.fn(x) }

func handle(t *testing.T, order []string, encoding map[string][]string, p model.Predictor) *model.Handle {
	t.Helper()
	h, err := model.NewHandle(&knowledge.EffectRecord{
		ID:                   uuid.New().String(),
		Subject:              "default/my-app",
		Group:                "rdt",
		Target:               "default/p99",
		ModelBlob:            []byte{1},
		FeatureEncoding:      encoding,
		TrainingFeatureOrder: order,
		Timestamp:            time.Now(),
	}, p)
	require.NoError(t, err)
	return h
}

func TestPredict(t *testing.T) {
	// rdt_class index feeds the second coefficient
	h := handle(t, []string{"cpus", "rdt_class", "load"},
		map[string][]string{"rdt_class": {"COS1", "COS2", "COS3"}},
		&linear.Regression{Coef: []float64{1, 10, 100}, Intercept: 0.5})

	t.Run("orders and encodes features", func(t *testing.T) {
		got, err := Predict(h, map[string]any{"load": 0.25, "rdt_class": "COS3", "cpus": 2, "ignored": "x"})
		require.NoError(t, err)
		assert.Equal(t, 2+10*2+25+0.5, got)
	})

	t.Run("accepts json numbers", func(t *testing.T) {
		got, err := Predict(h, map[string]any{"cpus": json.Number("1"), "rdt_class": "COS1", "load": json.Number("0")})
		require.NoError(t, err)
		assert.Equal(t, 1.5, got)
	})

	tests := []struct {
		name     string
		features map[string]any
		want     error
		feature  string
	}{
		{"missing feature", map[string]any{"cpus": 1, "rdt_class": "COS1"}, ErrMissingFeature, "load"},
		{"unknown category", map[string]any{"cpus": 1, "rdt_class": "COS9", "load": 1}, ErrUnknownCategory, "rdt_class"},
		{"case matters", map[string]any{"cpus": 1, "rdt_class": "cos1", "load": 1}, ErrUnknownCategory, "rdt_class"},
		{"numeric category", map[string]any{"cpus": 1, "rdt_class": 1, "load": 1}, ErrInvalidFeature, "rdt_class"},
		{"string number", map[string]any{"cpus": "1", "rdt_class": "COS1", "load": 1}, ErrInvalidFeature, "cpus"},
		{"bad json number", map[string]any{"cpus": json.Number("x"), "rdt_class": "COS1", "load": 1}, ErrInvalidFeature, "cpus"},
		{"nan input", map[string]any{"cpus": math.NaN(), "rdt_class": "COS1", "load": 1}, ErrInvalidFeature, "cpus"},
		{"nil value", map[string]any{"cpus": nil, "rdt_class": "COS1", "load": 1}, ErrInvalidFeature, "cpus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Predict(h, tt.features)
			require.ErrorIs(t, err, tt.want)

			var dErr *Error
			require.True(t, errors.As(err, &dErr))
			assert.Equal(t, tt.feature, dErr.Feature)
			assert.Contains(t, err.Error(), tt.feature)
		})
	}
}

func TestPredictFailures(t *testing.T) {
	cause := errors.New("bad split")

	tests := []struct {
		name string
		fn   func(x []float64) (float64, error)
	}{
		{"model error", func([]float64) (float64, error) { return 0, cause }},
		{"model panic", func(x []float64) (float64, error) { return x[7], nil }},
		{"nan result", func([]float64) (float64, error) { return math.NaN(), nil }},
		{"inf result", func([]float64) (float64, error) { return math.Inf(-1), nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handle(t, []string{"a"}, nil, fnModel{n: 1, fn: tt.fn})
			got, err := Predict(h, map[string]any{"a": 1.0})
			assert.ErrorIs(t, err, ErrPredictionFailed)
			assert.Zero(t, got)
		})
	}

	h := handle(t, []string{"a"}, nil, fnModel{n: 1, fn: tests[0].fn})
	_, err := Predict(h, map[string]any{"a": 1.0})
	assert.ErrorIs(t, err, cause)
}

func TestForecast(t *testing.T) {
	t.Run("one-hot sweep in training order", func(t *testing.T) {
		h := handle(t, []string{"performance", "balanced", "powersave", "idle"}, nil,
			&linear.Regression{Coef: []float64{4, 3, 2, 1}, Intercept: 1})

		got, err := Forecast(h, 8)
		require.NoError(t, err)

		want := []float64{33, 25, 17, 9}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Forecast() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("tree model", func(t *testing.T) {
		h := handle(t, []string{"p0", "p1"}, nil, &tree.Regressor{Kind: tree.KindDecision, Tree: tree.Stump(2, 1, 0.5, 1.1, 2.2)})

		got, err := Forecast(h, 1)
		require.NoError(t, err)
		if diff := cmp.Diff([]float64{1.1, 2.2}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("Forecast() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects categorical handles", func(t *testing.T) {
		h := handle(t, []string{"rdt_class"}, map[string][]string{"rdt_class": {"COS1"}},
			&linear.Regression{Coef: []float64{1}})
		_, err := Forecast(h, 1)
		assert.ErrorIs(t, err, ErrInvalidFeature)
	})

	t.Run("rejects non-finite amount", func(t *testing.T) {
		h := handle(t, []string{"a"}, nil, &linear.Regression{Coef: []float64{1}})
		_, err := Forecast(h, math.Inf(1))
		assert.ErrorIs(t, err, ErrInvalidFeature)
	})

	t.Run("propagates prediction failures", func(t *testing.T) {
		h := handle(t, []string{"a"}, nil, fnModel{n: 1, fn: func([]float64) (float64, error) { return math.NaN(), nil }})
		_, err := Forecast(h, 1)
		assert.ErrorIs(t, err, ErrPredictionFailed)
	})
}
