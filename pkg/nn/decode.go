package nn

import (
	"fmt"
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// Decode turns raw network anchors into final detections for an image of
// imageWidth x imageHeight pixels.
//
// Every anchor must pass Validate against len(labels).
// Anchors whose best class score is below the probability threshold are dropped.
// A zero threshold in params means the default, not "keep everything". Callers that
// want nearly every anchor must pass a tiny positive value instead.
// Survivors are scaled to the original image, clamped to its bounds, and then
// run through greedy non-max suppression independently for each class.
// Equal confidences are resolved by input order, so the output is a pure
// function of the input.
//
// Results are ordered by class, and then by descending confidence.
// If nothing survives, the result is an empty (non-nil) slice.
func Decode(raw []RawAnchor, imageWidth, imageHeight int, labels []string, params *DetectionParams) ([]Detection, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: image size %v x %v", ErrInvalidInput, imageWidth, imageHeight)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty label table", ErrInvalidInput)
	}
	minProb := params.probabilityThreshold()
	maxIoU := params.nmsIouThreshold()

	byClass := make([][]Detection, len(labels))
	for i := range raw {
		a := &raw[i]
		if err := a.Validate(len(labels)); err != nil {
			return nil, fmt.Errorf("anchor %v: %w", i, err)
		}
		cls, score := a.BestClass()
		if score < minProb {
			continue
		}
		box := RectFromCenter(a.CenterX*float32(imageWidth), a.CenterY*float32(imageHeight), a.Width*float32(imageWidth), a.Height*float32(imageHeight))
		byClass[cls] = append(byClass[cls], Detection{
			Class:      cls,
			Label:      labels[cls],
			Confidence: score,
			Box:        box.Clamp(imageWidth, imageHeight),
		})
	}

	result := []Detection{}
	for _, candidates := range byClass {
		result = append(result, suppress(candidates, maxIoU)...)
	}
	return result, nil
}

// Greedy NMS over candidates that all share one class.
// A candidate is removed if its IoU with an already selected box exceeds maxIoU.
func suppress(candidates []Detection, maxIoU float32) []Detection {
	if len(candidates) == 0 {
		return nil
	}
	slices.SortStableFunc(candidates, func(a, b Detection) int {
		if a.Confidence > b.Confidence {
			return -1
		} else if a.Confidence < b.Confidence {
			return 1
		}
		return 0
	})

	// Spatial index so that we only compute IoU for boxes that touch
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(candidates))
	for _, c := range candidates {
		fb.Add(int32(c.Box.X), int32(c.Box.Y), int32(c.Box.X2()), int32(c.Box.Y2()))
	}
	fb.Finish()

	removed := make([]bool, len(candidates))
	keep := make([]Detection, 0, len(candidates))
	nearby := []int{}
	for i, c := range candidates {
		if removed[i] {
			continue
		}
		keep = append(keep, c)
		nearby = fb.SearchFast(int32(c.Box.X), int32(c.Box.Y), int32(c.Box.X2()), int32(c.Box.Y2()), nearby[:0])
		for _, j := range nearby {
			// Only lower ranked candidates can be suppressed by c
			if j <= i || removed[j] {
				continue
			}
			if c.Box.IOU(candidates[j].Box) > maxIoU {
				removed[j] = true
			}
		}
	}
	return keep
}
