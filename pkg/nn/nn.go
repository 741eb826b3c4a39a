package nn

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chewxy/math32"
)

// Package nn is the detection layer: raw YOLO anchors go in, labelled boxes come out.
// To load a model from disk, use the nnload package.

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.4

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrModelLoad    = errors.New("model load failed")
	ErrInference    = errors.New("inference failed")
)

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 `json:"probabilityThreshold"` // Value between 0 and 1. Lower values will find more objects. Zero value will use the default, so a threshold of exactly zero cannot be requested.
	NmsIouThreshold      float32 `json:"nmsIouThreshold"`      // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

func (p *DetectionParams) probabilityThreshold() float32 {
	if p == nil || p.ProbabilityThreshold == 0 {
		return DefaultProbabilityThreshold
	}
	return p.ProbabilityThreshold
}

func (p *DetectionParams) nmsIouThreshold() float32 {
	if p == nil || p.NmsIouThreshold == 0 {
		return DefaultNmsIouThreshold
	}
	return p.NmsIouThreshold
}

// RawAnchor is one prediction slot of the network.
// The box is normalized to [0,1], relative to the network's square input.
// Scores holds one entry per class, in label-table order.
type RawAnchor struct {
	CenterX float32   `json:"cx"`
	CenterY float32   `json:"cy"`
	Width   float32   `json:"w"`
	Height  float32   `json:"h"`
	Scores  []float32 `json:"scores"`
}

// Validate checks that the anchor has exactly numClasses scores, each in [0,1], and a sane box
func (a *RawAnchor) Validate(numClasses int) error {
	if len(a.Scores) != numClasses {
		return fmt.Errorf("%w: anchor has %v class scores, expected %v", ErrInvalidInput, len(a.Scores), numClasses)
	}
	for i, s := range a.Scores {
		// NaN fails both comparisons
		if !(s >= 0 && s <= 1) {
			return fmt.Errorf("%w: class %v score %v is outside [0,1]", ErrInvalidInput, i, s)
		}
	}
	if !isFinite(a.CenterX) || !isFinite(a.CenterY) || !isFinite(a.Width) || !isFinite(a.Height) {
		return fmt.Errorf("%w: anchor box is not finite", ErrInvalidInput)
	}
	if a.Width < 0 || a.Height < 0 {
		return fmt.Errorf("%w: anchor box has negative size", ErrInvalidInput)
	}
	return nil
}

// BestClass returns the index and score of the highest scoring class.
// On a tie, the lowest class index wins.
func (a *RawAnchor) BestClass() (int, float32) {
	best := -1
	bestScore := float32(0)
	for i, s := range a.Scores {
		if best == -1 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best, bestScore
}

// Number of values before the class scores in a Darknet/OpenCV YOLO output row.
// The layout is cx, cy, w, h, objectness, class scores...
const YoloRowPrefix = 5

// AnchorsFromRows converts the rows of a YOLO output tensor into validated anchors.
// Every row must be exactly YoloRowPrefix + numClasses wide.
func AnchorsFromRows(rows [][]float32, numClasses int) ([]RawAnchor, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: model has no classes", ErrInference)
	}
	anchors := make([]RawAnchor, 0, len(rows))
	for i, row := range rows {
		if len(row) != YoloRowPrefix+numClasses {
			return nil, fmt.Errorf("%w: output row %v has %v values, expected %v", ErrInference, i, len(row), YoloRowPrefix+numClasses)
		}
		a := RawAnchor{
			CenterX: row[0],
			CenterY: row[1],
			Width:   row[2],
			Height:  row[3],
			Scores:  row[YoloRowPrefix:],
		}
		if err := a.Validate(numClasses); err != nil {
			return nil, fmt.Errorf("%w: output row %v: %w", ErrInference, i, err)
		}
		anchors = append(anchors, a)
	}
	return anchors, nil
}

// Detection is an object that the network has found in an image, in the pixel
// coordinates of the original image.
type Detection struct {
	Class      int     `json:"class"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// AnchorDetector runs a network over an image, and returns the raw anchors
type AnchorDetector interface {
	// Close releases the underlying network (it's a C++ object, so you MUST call this)
	Close()

	// Infer runs the network over img, and returns one anchor per prediction slot.
	// Each anchor has exactly numClasses scores.
	Infer(img *image.RGBA, numClasses int) ([]RawAnchor, error)
}

// Load a text file with class names on each line.
// Line number is the class id, so blank lines are not allowed in the middle of the file.
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	blank := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			blank++
			continue
		}
		if blank != 0 {
			return nil, fmt.Errorf("Blank line before class %v in %v", line, filename)
		}
		classes = append(classes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("No classes in %v", filename)
	}
	return classes, nil
}

func isFinite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}
