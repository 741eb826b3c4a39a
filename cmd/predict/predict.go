package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/helmetcam/pkg/darknet"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/pkg/nnload"
	"github.com/cyclopcam/helmetcam/server/config"
	"github.com/cyclopcam/helmetcam/server/detect"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Runs a single image through the helmet detector, writes the annotated JPEG, and prints the detections as JSON
func main() {
	parser := argparse.NewParser("predict", "Detect safety helmets in an image")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image (jpeg, png, bmp, webp)", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Output annotated JPEG file", Required: false, Default: ""})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file (YAML), for the model location", Default: ""})
	modelDir := parser.String("m", "model", &argparse.Options{Help: "Override the model directory", Default: ""})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Minimum class probability, in (0, 1]. Zero uses the configured value", Default: 0.0})
	nms := parser.Float("", "nms", &argparse.Options{Help: "IoU above which overlapping boxes of the same class are suppressed", Default: 0.0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	cfg, err := config.Load(*configFile)
	check(err)
	if *modelDir != "" {
		cfg.Model.Dir = *modelDir
	}
	params := nn.DetectionParams{
		ProbabilityThreshold: cfg.Detect.ProbabilityThreshold,
		NmsIouThreshold:      cfg.Detect.NmsIouThreshold,
	}
	if *threshold != 0 {
		params.ProbabilityThreshold = float32(*threshold)
	}
	if *nms != 0 {
		params.NmsIouThreshold = float32(*nms)
	}

	model, err := nnload.LoadModel(logger, nnload.ModelFiles{
		Dir:     cfg.Model.Dir,
		Config:  cfg.Model.Config,
		Weights: cfg.Model.Weights,
		Labels:  cfg.Model.Labels,
	}, darknet.Options{
		InputWidth:  cfg.Model.InputWidth,
		InputHeight: cfg.Model.InputHeight,
		Backend:     cfg.Model.Backend,
		Target:      cfg.Model.Target,
	})
	check(err)

	service := detect.NewService(logger, model, detect.Options{
		Params:       params,
		JPEGQuality:  cfg.JPEGQuality,
		MaxDimension: cfg.Upload.MaxDimension,
	})
	defer service.Close()

	raw, err := os.ReadFile(*input)
	check(err)
	res, err := service.ProcessUpload(raw)
	check(err)

	if *output != "" {
		check(os.WriteFile(*output, res.JPEG, 0664))
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(res))
}
