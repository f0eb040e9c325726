package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/diacheck/diacheck/pkg/resilience"
)

// Classifier types accepted in a bundle file.
const (
	KindRandomForest = "random_forest"
	KindLogistic     = "logistic_regression"
	KindONNX         = "onnx"
	KindRemote       = "remote"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// manifest is the on-disk bundle layout, exported from the training
// notebook next to (or instead of) the joblib pickle.
type manifest struct {
	Variant      string            `json:"variant,omitempty"`
	FeatureNames []string          `json:"feature_names,omitempty"`
	NFeatures    int               `json:"n_features,omitempty"`
	Classes      []json.RawMessage `json:"classes"`
	Imputer      *Imputer          `json:"imputer,omitempty"`
	Scaler       *Scaler           `json:"scaler,omitempty"`
	Model        classifierSpec    `json:"model"`
}

type classifierSpec struct {
	Type string `json:"type"`

	// random_forest
	Trees []Tree `json:"trees,omitempty"`

	// logistic_regression
	Coef       [][]float64 `json:"coef,omitempty"`
	Intercept  []float64   `json:"intercept,omitempty"`
	MultiClass string      `json:"multi_class,omitempty"`

	// onnx; Path is relative to the bundle file
	Path       string `json:"path,omitempty"`
	InputName  string `json:"input_name,omitempty"`
	OutputName string `json:"output_name,omitempty"`

	// remote
	Target  string       `json:"target,omitempty"`
	Timeout string       `json:"timeout,omitempty"`
	Breaker *breakerSpec `json:"breaker,omitempty"`
}

type breakerSpec struct {
	Failures int    `json:"failures"`
	OpenFor  string `json:"open_for"`
}

type loadOptions struct {
	ortLibrary string
	dialOpts   []grpc.DialOption
	logger     *slog.Logger
}

// Option configures bundle loading.
type Option func(*loadOptions)

// WithONNXRuntime sets the ONNX Runtime shared library used by onnx bundles.
func WithONNXRuntime(libPath string) Option {
	return func(o *loadOptions) { o.ortLibrary = libPath }
}

// WithDialOptions replaces the gRPC dial options used by remote bundles.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *loadOptions) { o.dialOpts = opts }
}

// WithLogger sets the logger for backend events such as remote breaker
// state changes. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *loadOptions) { o.logger = l }
}

// Load reads a bundle file. Plain, gzip and zstd compressed JSON are
// accepted; compression is detected from the file contents.
func Load(path string, opts ...Option) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open bundle: %w", err)
	}
	defer f.Close()

	b, err := Decode(f, filepath.Dir(path), opts...)
	if err != nil {
		return nil, fmt.Errorf("model: load %s: %w", path, err)
	}
	b.Source = path
	return b, nil
}

// Decode reads a bundle from r. dir resolves relative artifact paths.
func Decode(r io.Reader, dir string, opts ...Option) (*Bundle, error) {
	o := loadOptions{
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	body, closeBody, err := decompress(r)
	if err != nil {
		return nil, err
	}
	defer closeBody()

	var m manifest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidBundle, err)
	}
	return build(m, dir, o)
}

func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %v", ErrInvalidBundle, err)
		}
		return zr, func() { zr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %v", ErrInvalidBundle, err)
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}

func build(m manifest, dir string, o loadOptions) (*Bundle, error) {
	n := m.NFeatures
	if len(m.FeatureNames) > 0 {
		if n != 0 && n != len(m.FeatureNames) {
			return nil, fmt.Errorf("%w: n_features %d disagrees with %d feature names", ErrInvalidBundle, n, len(m.FeatureNames))
		}
		n = len(m.FeatureNames)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: feature_names or n_features is required", ErrInvalidBundle)
	}

	classes := make([]string, len(m.Classes))
	for i, raw := range m.Classes {
		classes[i] = classLabel(raw)
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidBundle, len(classes))
	}

	clf, err := newClassifier(m.Model, m.FeatureNames, dir, n, len(classes), o)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Variant:      m.Variant,
		FeatureNames: m.FeatureNames,
		Classes:      classes,
		Imputer:      m.Imputer,
		Scaler:       m.Scaler,
		Classifier:   clf,
		Kind:         m.Model.Type,
		LoadedAt:     time.Now().UTC(),
		nFeatures:    n,
	}
	if err := b.validate(); err != nil {
		clf.Close()
		return nil, err
	}
	return b, nil
}

func newClassifier(spec classifierSpec, names []string, dir string, nFeatures, nClasses int, o loadOptions) (Classifier, error) {
	switch spec.Type {
	case KindRandomForest:
		return NewForest(spec.Trees, nFeatures, nClasses)
	case KindLogistic:
		return NewLogistic(spec.Coef, spec.Intercept, spec.MultiClass == "ovr", nFeatures, nClasses)
	case KindONNX:
		if spec.Path == "" {
			return nil, fmt.Errorf("%w: onnx model needs a path", ErrInvalidBundle)
		}
		p := spec.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		return NewONNX(p, spec.InputName, spec.OutputName, o.ortLibrary, nFeatures, nClasses)
	case KindRemote:
		if spec.Target == "" {
			return nil, fmt.Errorf("%w: remote model needs a target", ErrInvalidBundle)
		}
		var timeout time.Duration
		if spec.Timeout != "" {
			d, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: remote timeout: %v", ErrInvalidBundle, err)
			}
			timeout = d
		}
		var brk *resilience.Breaker
		if spec.Breaker != nil {
			target := spec.Target
			opts := resilience.Options{
				Failures: spec.Breaker.Failures,
				Counts:   RemoteFailure,
				OnChange: func(from, to resilience.State) {
					lvl := slog.LevelInfo
					if to == resilience.StateOpen {
						lvl = slog.LevelWarn
					}
					o.logger.Log(context.Background(), lvl, "remote model breaker",
						"target", target, "from", from.String(), "to", to.String())
				},
			}
			if spec.Breaker.OpenFor != "" {
				d, err := time.ParseDuration(spec.Breaker.OpenFor)
				if err != nil {
					return nil, fmt.Errorf("%w: breaker open_for: %v", ErrInvalidBundle, err)
				}
				opts.OpenFor = d
			}
			brk = resilience.New(opts)
		}
		conn, err := grpc.NewClient(spec.Target, o.dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("model: dial %s: %w", spec.Target, err)
		}
		r := NewRemote(conn, conn, names, timeout)
		r.SetBreaker(brk)
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedClassifier, spec.Type)
	}
}

// classLabel renders a class as text whether it was exported as a number
// or a string.
func classLabel(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
