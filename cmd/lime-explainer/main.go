// Command lime-explainer explains a single prediction of an OpenCV DNN
// classifier: it segments the input image into superpixels, perturbs them,
// and prints the fitted per-superpixel coefficients as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"lime-explainer/blackbox"
	"lime-explainer/classify"
	"lime-explainer/explainer"
	"lime-explainer/internal/logger"
	"lime-explainer/perturb"
	"lime-explainer/segment"
	"lime-explainer/tensor"
)

func main() {
	var (
		imagePath   = flag.String("image", "", "input image path (required)")
		modelPath   = flag.String("model", "", "serialized DNN model path (required)")
		configPath  = flag.String("config", "", "optional DNN config path")
		inputWidth  = flag.Int("input-width", 224, "network input width")
		inputHeight = flag.Int("input-height", 224, "network input height")
		segmenter   = flag.String("segmenter", segment.SLIC, "segmentation algorithm: slic, felzenszwalb, quickshift, color-kmeans")
		superpixels = flag.Int("superpixels", 100, "target superpixel count (slic only)")
		samples     = flag.Int("samples", 1000, "number of perturbations")
		topK        = flag.Int("top", 5, "explain the top K classes (0 = all)")
		seed        = flag.Int64("seed", 1, "sampling seed")
		fill        = flag.Float64("fill", -1, "constant baseline fill value (negative = superpixel mean)")
		timeout     = flag.Duration("timeout", 30*time.Second, "per-image scoring timeout")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *imagePath == "" || *modelPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsole(level)

	if err := run(log, *imagePath, *modelPath, *configPath, *inputWidth, *inputHeight,
		*segmenter, *superpixels, *samples, *topK, *seed, *fill, *timeout); err != nil {
		log.Error("main", err, nil)
		os.Exit(1)
	}
}

func run(log logger.Logger, imagePath, modelPath, configPath string, inputWidth, inputHeight int,
	segmenterName string, superpixels, samples, topK int, seed int64, fill float64,
	timeout time.Duration) error {

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	img, err := loadImage(imagePath)
	if err != nil {
		return err
	}
	log.Info("main", "image loaded", map[string]interface{}{
		"path":   imagePath,
		"width":  img.Width,
		"height": img.Height,
	})

	params := map[string]interface{}{}
	if segmenterName == segment.SLIC {
		params["num_superpixels"] = superpixels
	}
	strategy, err := segment.New(segmenterName, params)
	if err != nil {
		return err
	}

	scorer, err := classify.NewDNNScorer(modelPath, configPath, classify.DNNConfig{
		InputWidth:  inputWidth,
		InputHeight: inputHeight,
		Scale:       1.0 / 255.0,
		SwapRB:      true,
	})
	if err != nil {
		return err
	}
	defer scorer.Close()

	adapter := blackbox.New(scorer,
		blackbox.WithPreprocessor(classify.Resize(inputWidth, inputHeight)),
		blackbox.WithTimeout(timeout),
		blackbox.WithWorkers(runtime.NumCPU()),
		blackbox.WithLogger(log),
	)

	opts := explainer.DefaultOptions()
	opts.NumSamples = samples
	opts.TopK = topK
	opts.Seed = seed
	if fill >= 0 {
		opts.Policy = perturb.FillPolicy{Value: fill}
	}

	session := explainer.NewSession(img)
	exp := explainer.New(strategy, adapter, explainer.WithLogger(log))

	start := time.Now()
	explanation, err := exp.Explain(ctx, session, opts)
	if err != nil {
		return err
	}
	log.Info("main", "explanation finished", map[string]interface{}{
		"elapsed":     time.Since(start).String(),
		"superpixels": explanation.NumSuperpixels,
		"classes":     explanation.Classes,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(explanation)
}

func loadImage(path string) (*tensor.Dense, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image %q", path)
	}
	defer mat.Close()

	converted := gocv.NewMat()
	defer converted.Close()
	gocv.CvtColor(mat, &converted, gocv.ColorBGRToRGB)

	img, err := converted.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting image %q: %w", path, err)
	}
	return tensor.FromImage(img), nil
}
