package nn

import (
	"fmt"
	"image"
)

// Model is a loaded network together with the label table that names its classes.
// The label table is read-only after load.
type Model struct {
	Detector AnchorDetector
	Labels   []string
}

func NewModel(detector AnchorDetector, labels []string) *Model {
	return &Model{
		Detector: detector,
		Labels:   labels,
	}
}

func (m *Model) Close() {
	if m.Detector != nil {
		m.Detector.Close()
		m.Detector = nil
	}
}

// Detect runs inference on img, and decodes the result against img's own dimensions.
// AnchorDetector implementations are generally not thread safe, so callers must serialize access.
func (m *Model) Detect(img *image.RGBA, params *DetectionParams) ([]Detection, error) {
	if img == nil || img.Rect.Dx() <= 0 || img.Rect.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	raw, err := m.Detector.Infer(img, len(m.Labels))
	if err != nil {
		return nil, err
	}
	return Decode(raw, img.Rect.Dx(), img.Rect.Dy(), m.Labels, params)
}
