package capture

// Package capture reads frames from a local video device (eg a USB webcam) through OpenCV.

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/cyclopcam/helmetcam/pkg/camera"
	"github.com/cyclopcam/helmetcam/pkg/imgcodec"
	"gocv.io/x/gocv"
)

type device struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// Device returns an Opener for a capture device.
// name is either a device index (eg "0"), or a path/URL that OpenCV understands (eg "/dev/video2", or a video file).
func Device(name string) camera.Opener {
	return func() (camera.Device, error) {
		var vc *gocv.VideoCapture
		var err error
		if id, convErr := strconv.Atoi(name); convErr == nil {
			vc, err = gocv.OpenVideoCapture(id)
		} else {
			vc, err = gocv.OpenVideoCapture(name)
		}
		if err != nil {
			return nil, err
		}
		if !vc.IsOpened() {
			vc.Close()
			return nil, fmt.Errorf("Device %v is not open", name)
		}
		return &device{
			vc:  vc,
			mat: gocv.NewMat(),
		}, nil
	}
}

func (d *device) Read() (*image.RGBA, error) {
	if ok := d.vc.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, errors.New("no frame")
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, err
	}
	return imgcodec.ToRGBA(img), nil
}

func (d *device) Close() error {
	d.mat.Close()
	return d.vc.Close()
}
