package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Default tensor names produced by skl2onnx for classifiers.
const (
	defaultONNXInput  = "float_input"
	defaultONNXOutput = "probabilities"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initORT initialises the process-wide ONNX Runtime environment once.
func initORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNX runs an exported classifier through ONNX Runtime. The graph must emit
// a dense [1, classes] float probability tensor (skl2onnx zipmap=False).
type ONNX struct {
	session   *ort.DynamicAdvancedSession
	nFeatures int
	nClasses  int
}

// NewONNX opens a session for the model at path.
func NewONNX(path, inputName, outputName, libPath string, nFeatures, nClasses int) (*ONNX, error) {
	if inputName == "" {
		inputName = defaultONNXInput
	}
	if outputName == "" {
		outputName = defaultONNXOutput
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: init runtime: %w", err)
	}
	s, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: open %s: %w", path, err)
	}
	return &ONNX{session: s, nFeatures: nFeatures, nClasses: nClasses}, nil
}

// PredictProba implements Classifier.
func (o *ONNX) PredictProba(_ context.Context, x []float64) ([]float64, error) {
	in := make([]float32, len(x))
	for i, v := range x {
		in[i] = float32(v)
	}
	inT, err := ort.NewTensor(ort.NewShape(1, int64(o.nFeatures)), in)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer inT.Destroy()

	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.nClasses)))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer outT.Destroy()

	if err := o.session.Run([]ort.Value{inT}, []ort.Value{outT}); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	data := outT.GetData()
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}

// Close implements Classifier.
func (o *ONNX) Close() error {
	if o.session == nil {
		return nil
	}
	return o.session.Destroy()
}
