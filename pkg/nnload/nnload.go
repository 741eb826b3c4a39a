package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementation (OpenCV's DNN module running a Darknet model), so that you
// can just call one function to load a model, and not need to know about the implementation details.

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/helmetcam/pkg/darknet"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/logs"
)

// ModelFiles names the three artifacts that make up a model.
// Relative names are resolved against Dir.
type ModelFiles struct {
	Dir     string // eg /home/user/helmetcam/model
	Config  string // eg yolov3-helmet.cfg
	Weights string // eg yolov3-helmet.weights
	Labels  string // eg labels.txt
}

func (m *ModelFiles) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.Dir, name)
}

func (m *ModelFiles) ConfigPath() string  { return m.path(m.Config) }
func (m *ModelFiles) WeightsPath() string { return m.path(m.Weights) }
func (m *ModelFiles) LabelsPath() string  { return m.path(m.Labels) }

// Check that all the model files exist
func (m *ModelFiles) Check() error {
	for _, fn := range []string{m.ConfigPath(), m.WeightsPath(), m.LabelsPath()} {
		if _, err := os.Stat(fn); err != nil {
			return fmt.Errorf("%w: %w", nn.ErrModelLoad, err)
		}
	}
	return nil
}

// LoadModel loads the label table, the network configuration and the weights.
// A missing or unreadable artifact is reported as nn.ErrModelLoad.
func LoadModel(log logs.Log, files ModelFiles, opts darknet.Options) (*nn.Model, error) {
	if err := files.Check(); err != nil {
		return nil, err
	}
	labels, err := nn.LoadClassFile(files.LabelsPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nn.ErrModelLoad, err)
	}
	log.Infof("Loading model %v (%v classes: %v)", files.WeightsPath(), len(labels), labels)
	detector, err := darknet.Load(files.ConfigPath(), files.WeightsPath(), opts)
	if err != nil {
		return nil, err
	}
	return nn.NewModel(detector, labels), nil
}
