package classify

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"lime-explainer/tensor"
)

// DNNScorer scores images through an OpenCV DNN network (Caffe, ONNX,
// TensorFlow — whatever gocv.ReadNet accepts). It implements
// blackbox.Scorer. Forward passes are serialized under a mutex since a
// gocv.Net is not safe for concurrent use; run the adapter with one worker
// or accept the serialization.
type DNNScorer struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize image.Point
	mean      gocv.Scalar
	scale     float64
	swapRB    bool
}

// DNNConfig tunes blob construction for the target network.
type DNNConfig struct {
	// InputWidth/InputHeight are the network's fixed input resolution.
	InputWidth  int
	InputHeight int
	// Scale multiplies pixel values; 1/255 for networks trained on [0,1].
	Scale float64
	// MeanR/G/B are subtracted per channel before scaling.
	MeanR, MeanG, MeanB float64
	// SwapRB swaps red and blue, needed for BGR-trained Caffe models.
	SwapRB bool
}

// NewDNNScorer loads a serialized network. configPath may be empty for
// single-file formats such as ONNX.
func NewDNNScorer(modelPath, configPath string, cfg DNNConfig) (*DNNScorer, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %q", modelPath)
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0
	}
	if cfg.InputWidth == 0 || cfg.InputHeight == 0 {
		cfg.InputWidth, cfg.InputHeight = 224, 224
	}
	return &DNNScorer{
		net:       net,
		inputSize: image.Point{X: cfg.InputWidth, Y: cfg.InputHeight},
		mean:      gocv.NewScalar(cfg.MeanB, cfg.MeanG, cfg.MeanR, 0),
		scale:     cfg.Scale,
		swapRB:    cfg.SwapRB,
	}, nil
}

// Score runs one forward pass. Raw network outputs are returned as-is; the
// blackbox adapter softmaxes logits.
func (s *DNNScorer) Score(ctx context.Context, input *tensor.Dense) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(input.ToRGBA())
	if err != nil {
		return nil, fmt.Errorf("converting image to mat: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, s.scale, s.inputSize, s.mean, s.swapRB, false)
	defer blob.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	raw, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading network output: %w", err)
	}
	scores := make([]float64, len(raw))
	for i, v := range raw {
		scores[i] = float64(v)
	}
	return scores, nil
}

// Close releases the network.
func (s *DNNScorer) Close() error {
	return s.net.Close()
}
