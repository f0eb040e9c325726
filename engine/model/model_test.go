package model

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Two stumps over three features and three classes.
const forestJSON = `{
  "variant": "test",
  "feature_names": ["a", "b", "c"],
  "classes": [0, 1, 2],
  "imputer": {"strategy": "median", "statistics": [1, 5, 0]},
  "model": {
    "type": "random_forest",
    "trees": [
      {
        "children_left":  [1, -1, -1],
        "children_right": [2, -1, -1],
        "feature":        [0, -2, -2],
        "threshold":      [0.5, -2, -2],
        "value":          [[9, 3, 2], [8, 2, 0], [1, 1, 2]]
      },
      {
        "children_left":  [1, -1, -1],
        "children_right": [2, -1, -1],
        "feature":        [1, -2, -2],
        "threshold":      [10, -2, -2],
        "value":          [[10, 5, 5], [10, 0, 0], [0, 5, 5]]
      }
    ]
  }
}`

const logisticJSON = `{
  "n_features": 2,
  "classes": ["negative", "positive"],
  "scaler": {"mean": [0, 10], "scale": [1, 2]},
  "model": {"type": "logistic_regression", "coef": [[1.5, -0.5]], "intercept": [0.25]}
}`

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func decodeString(t *testing.T, s string) *Bundle {
	t.Helper()
	b, err := Decode(strings.NewReader(s), t.TempDir())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return b
}

func TestForestPredictProba(t *testing.T) {
	b := decodeString(t, forestJSON)
	if b.Kind != KindRandomForest || b.NumFeatures() != 3 || b.Variant != "test" {
		t.Fatalf("unexpected bundle metadata %+v", b)
	}
	if strings.Join(b.Classes, ",") != "0,1,2" {
		t.Fatalf("unexpected classes %v", b.Classes)
	}

	tests := []struct {
		name string
		x    []float64
		want []float64
	}{
		{"left/right", []float64{0, 20, 0}, []float64{0.4, 0.35, 0.25}},
		{"left/left", []float64{0, 5, 0}, []float64{0.9, 0.1, 0}},
		{"right/right", []float64{1, 11, 0}, []float64{0.125, 0.375, 0.5}},
		{"threshold goes left", []float64{0.5, 10, 0}, []float64{0.9, 0.1, 0}},
		{"nan imputed", []float64{math.NaN(), 20, 0}, []float64{0.125, 0.375, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := b.PredictProba(context.Background(), tt.x)
			if err != nil {
				t.Fatalf("PredictProba: %v", err)
			}
			for i := range tt.want {
				if !approx(p[i], tt.want[i]) {
					t.Fatalf("expected %v, got %v", tt.want, p)
				}
			}
		})
	}
}

func TestLogisticBinaryWithScaler(t *testing.T) {
	b := decodeString(t, logisticJSON)
	p, err := b.PredictProba(context.Background(), []float64{1, 14})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	// scaled: [1, 2]; z = 0.25 + 1.5 - 1.0 = 0.75
	want := 1 / (1 + math.Exp(-0.75))
	if !approx(p[1], want) || !approx(p[0], 1-want) {
		t.Fatalf("expected [%v %v], got %v", 1-want, want, p)
	}
}

func TestLogisticMultinomial(t *testing.T) {
	l, err := NewLogistic([][]float64{{1, 0}, {0, 1}, {0, 0}}, []float64{0, 0, 0}, false, 2, 3)
	if err != nil {
		t.Fatalf("NewLogistic: %v", err)
	}
	p, err := l.PredictProba(context.Background(), []float64{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := Probabilities(p).Validate(3); err != nil {
		t.Fatalf("softmax output invalid: %v", err)
	}
	if !approx(p[0], p[1]) || p[2] >= p[0] {
		t.Fatalf("unexpected softmax %v", p)
	}

	ovr, err := NewLogistic([][]float64{{1, 0}, {0, 1}, {0, 0}}, []float64{0, 0, 0}, true, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	p, _ = ovr.PredictProba(context.Background(), []float64{1, 1})
	if err := Probabilities(p).Validate(3); err != nil {
		t.Fatalf("ovr output invalid: %v", err)
	}
}

func TestLogisticShapeErrors(t *testing.T) {
	if _, err := NewLogistic([][]float64{{1}}, []float64{0}, false, 2, 2); !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("expected short row rejected, got %v", err)
	}
	if _, err := NewLogistic([][]float64{{1, 1}, {1, 1}}, []float64{0, 0}, false, 2, 3); !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("expected row count rejected, got %v", err)
	}
	if _, err := NewLogistic([][]float64{{1, 1}}, nil, false, 2, 2); !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("expected missing intercept rejected, got %v", err)
	}
}

// For any input, probabilities lie in [0,1] and sum to 1.
func TestProbabilityInvariant(t *testing.T) {
	for _, src := range []string{forestJSON, logisticJSON} {
		b := decodeString(t, src)
		for i := 0; i < 200; i++ {
			x := make([]float64, b.NumFeatures())
			for j := range x {
				x[j] = float64((i*7+j*13)%41) - 20
			}
			p, err := b.PredictProba(context.Background(), x)
			if err != nil {
				t.Fatalf("PredictProba(%v): %v", x, err)
			}
			var sum float64
			for _, v := range p {
				if v < 0 || v > 1 {
					t.Fatalf("probability out of range: %v", p)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-6 {
				t.Fatalf("probabilities sum to %v", sum)
			}
		}
	}
}

func TestProbabilitiesValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Probabilities
		n    int
		ok   bool
	}{
		{"valid", Probabilities{0.2, 0.8}, 2, true},
		{"wrong count", Probabilities{1}, 2, false},
		{"negative", Probabilities{-0.1, 1.1}, 2, false},
		{"bad sum", Probabilities{0.5, 0.4}, 2, false},
		{"nan", Probabilities{math.NaN(), 1}, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate(tt.n)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidProbabilities) {
				t.Fatalf("expected ErrInvalidProbabilities, got %v", err)
			}
		})
	}
}

func TestShapeMismatch(t *testing.T) {
	b := decodeString(t, forestJSON)
	_, err := b.PredictProba(context.Background(), []float64{1, 2})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

type badClassifier struct{ out []float64 }

func (c badClassifier) PredictProba(context.Context, []float64) ([]float64, error) { return c.out, nil }
func (badClassifier) Close() error { return nil }

func TestBundleRejectsInvalidClassifierOutput(t *testing.T) {
	b, err := NewBundle(1, []string{"0", "1"}, badClassifier{out: []float64{0.7, 0.7}}, nil, nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	if _, err := b.PredictProba(context.Background(), []float64{0}); !errors.Is(err, ErrInvalidProbabilities) {
		t.Fatalf("expected ErrInvalidProbabilities, got %v", err)
	}
}

func TestDecodeRejectsBrokenBundles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"classes":`, ErrInvalidBundle},
		{"no width", `{"classes":[0,1],"model":{"type":"logistic_regression","coef":[[1]],"intercept":[0]}}`, ErrInvalidBundle},
		{"one class", `{"n_features":1,"classes":[0],"model":{"type":"logistic_regression"}}`, ErrInvalidBundle},
		{"unknown type", `{"n_features":1,"classes":[0,1],"model":{"type":"svm"}}`, ErrUnsupportedClassifier},
		{"names vs width", `{"n_features":2,"feature_names":["a"],"classes":[0,1],"model":{"type":"logistic_regression","coef":[[1]],"intercept":[0]}}`, ErrInvalidBundle},
		{"imputer width", `{"n_features":1,"classes":[0,1],"imputer":{"statistics":[1,2]},"model":{"type":"logistic_regression","coef":[[1]],"intercept":[0]}}`, ErrInvalidBundle},
		{"zero scale", `{"n_features":1,"classes":[0,1],"scaler":{"mean":[0],"scale":[0]},"model":{"type":"logistic_regression","coef":[[1]],"intercept":[0]}}`, ErrInvalidBundle},
		{"tree feature range", `{"n_features":1,"classes":[0,1],"model":{"type":"random_forest","trees":[{"children_left":[1,-1,-1],"children_right":[2,-1,-1],"feature":[3,-2,-2],"threshold":[0,-2,-2],"value":[[1,1],[1,0],[0,1]]}]}}`, ErrInvalidBundle},
		{"tree cycle", `{"n_features":1,"classes":[0,1],"model":{"type":"random_forest","trees":[{"children_left":[0,-1,-1],"children_right":[2,-1,-1],"feature":[0,-2,-2],"threshold":[0,-2,-2],"value":[[1,1],[1,0],[0,1]]}]}}`, ErrInvalidBundle},
		{"leaf width", `{"n_features":1,"classes":[0,1],"model":{"type":"random_forest","trees":[{"children_left":[-1],"children_right":[-1],"feature":[-2],"threshold":[-2],"value":[[1,1,1]]}]}}`, ErrInvalidBundle},
		{"onnx without path", `{"n_features":1,"classes":[0,1],"model":{"type":"onnx"}}`, ErrInvalidBundle},
		{"remote without target", `{"n_features":1,"classes":[0,1],"model":{"type":"remote"}}`, ErrInvalidBundle},
		{"remote bad timeout", `{"n_features":1,"classes":[0,1],"model":{"type":"remote","target":"localhost:1","timeout":"soon"}}`, ErrInvalidBundle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body), t.TempDir())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadCompressedBundles(t *testing.T) {
	dir := t.TempDir()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte(forestJSON))
	zw.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll([]byte(forestJSON), nil)
	enc.Close()

	files := map[string][]byte{
		"plain.json":      []byte(forestJSON),
		"bundle.json.gz":  gz.Bytes(),
		"bundle.json.zst": zst,
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		b, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if b.Source != path || b.NumFeatures() != 3 {
			t.Fatalf("%s: unexpected bundle %+v", name, b)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
