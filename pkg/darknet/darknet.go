package darknet

// package darknet runs Darknet YOLO models (a .cfg + .weights pair) through OpenCV's DNN module.

import (
	"fmt"
	"image"
	"os"

	"github.com/cyclopcam/helmetcam/pkg/nn"
	"gocv.io/x/gocv"
)

const DefaultInputSize = 416

// The network expects pixels in [0,1]
const pixelScale = 1.0 / 255.0

type Options struct {
	InputWidth  int    // Network input width. Zero means DefaultInputSize.
	InputHeight int    // Network input height. Zero means DefaultInputSize.
	Backend     string // OpenCV DNN backend, eg "default", "openvino", "cuda". Empty means default.
	Target      string // OpenCV DNN target, eg "cpu", "fp16", "cuda". Empty means cpu.
}

type Detector struct {
	net         gocv.Net
	outputNames []string
	inputSize   image.Point
}

// Load reads the network configuration and weights.
// Failure to read either file is reported as nn.ErrModelLoad.
func Load(cfgFile, weightsFile string, opts Options) (*Detector, error) {
	for _, fn := range []string{cfgFile, weightsFile} {
		if _, err := os.Stat(fn); err != nil {
			return nil, fmt.Errorf("%w: %w", nn.ErrModelLoad, err)
		}
	}
	net := gocv.ReadNetFromDarknet(cfgFile, weightsFile)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: OpenCV could not read '%v' and '%v'", nn.ErrModelLoad, cfgFile, weightsFile)
	}
	if opts.Backend != "" {
		if err := net.SetPreferableBackend(gocv.ParseNetBackend(opts.Backend)); err != nil {
			net.Close()
			return nil, fmt.Errorf("%w: backend %v: %w", nn.ErrModelLoad, opts.Backend, err)
		}
	}
	if opts.Target != "" {
		if err := net.SetPreferableTarget(gocv.ParseNetTarget(opts.Target)); err != nil {
			net.Close()
			return nil, fmt.Errorf("%w: target %v: %w", nn.ErrModelLoad, opts.Target, err)
		}
	}

	// YOLO has several output (detection) layers, one per scale
	outputNames := []string{}
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		outputNames = append(outputNames, layer.GetName())
		layer.Close()
	}
	if len(outputNames) == 0 {
		net.Close()
		return nil, fmt.Errorf("%w: network has no output layers", nn.ErrModelLoad)
	}

	width, height := opts.InputWidth, opts.InputHeight
	if width == 0 {
		width = DefaultInputSize
	}
	if height == 0 {
		height = DefaultInputSize
	}

	return &Detector{
		net:         net,
		outputNames: outputNames,
		inputSize:   image.Pt(width, height),
	}, nil
}

func (d *Detector) Close() {
	d.net.Close()
}

// Infer runs the network over img.
// Every output row is validated to have exactly numClasses scores.
func (d *Detector) Infer(img *image.RGBA, numClasses int) ([]nn.RawAnchor, error) {
	if img.Rect.Dx() <= 0 || img.Rect.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", nn.ErrInference)
	}
	bgr, err := rgbaToBGRMat(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nn.ErrInference, err)
	}
	defer bgr.Close()

	// swapRB converts our BGR Mat back into the RGB order that Darknet was trained on
	blob := gocv.BlobFromImage(bgr, pixelScale, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	rows := [][]float32{}
	for _, out := range outputs {
		outRows, err := matRows(out)
		if err != nil {
			return nil, err
		}
		rows = append(rows, outRows...)
	}
	return nn.AnchorsFromRows(rows, numClasses)
}

// Copy each row of a 2D float output Mat.
// We copy because the Mat memory is released when the Mat is closed.
func matRows(m gocv.Mat) ([][]float32, error) {
	if m.Empty() {
		return nil, nil
	}
	if m.Type() != gocv.MatTypeCV32F {
		return nil, fmt.Errorf("%w: unexpected output type %v", nn.ErrInference, m.Type())
	}
	nRows, nCols := m.Rows(), m.Cols()
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nn.ErrInference, err)
	}
	if len(data) < nRows*nCols {
		return nil, fmt.Errorf("%w: output is %v x %v, but only has %v values", nn.ErrInference, nRows, nCols, len(data))
	}
	rows := make([][]float32, nRows)
	for r := 0; r < nRows; r++ {
		rows[r] = append([]float32(nil), data[r*nCols:(r+1)*nCols]...)
	}
	return rows, nil
}

func rgbaToBGRMat(img *image.RGBA) (gocv.Mat, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	pix := img.Pix
	if img.Stride != w*4 {
		// Sub-image. Pack the rows tightly.
		pix = make([]byte, w*h*4)
		for y := 0; y < h; y++ {
			src := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
			copy(pix[y*w*4:(y+1)*w*4], src[:w*4])
		}
	}
	rgba, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, pix[:w*h*4])
	if err != nil {
		return gocv.Mat{}, err
	}
	defer rgba.Close()
	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}
