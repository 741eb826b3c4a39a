package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/cyclopcam/helmetcam/pkg/imgcodec"
	"github.com/cyclopcam/helmetcam/pkg/kibi"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/server/detect"
	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

var errNoImage = errors.New("No image was uploaded")

// readUpload reads the image from a multipart "image" field, or from the raw request body
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := s.readUploadBody(w, r)
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return nil, fmt.Errorf("The image is larger than the %v limit: %w", kibi.FormatBytes(s.Config.Upload.MaxBytes), err)
	}
	return b, err
}

func (s *Server) readUploadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	maxBytes := s.Config.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, errNoImage
		}
		defer file.Close()
		src = file
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errNoImage
	}
	return b, nil
}

// uploadErrorStatus maps a failed upload to an HTTP status code
func uploadErrorStatus(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, imgcodec.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errNoImage), errors.Is(err, imgcodec.ErrCorrupt), errors.Is(err, nn.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) processUpload(w http.ResponseWriter, r *http.Request) (*detect.Result, error) {
	b, err := s.readUpload(w, r)
	if err != nil {
		return nil, err
	}
	return s.Detector.ProcessUpload(b)
}

// httpDetect runs an uploaded image through the detector.
// Returns the annotated JPEG, or with ?format=json, the detections.
func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	res, err := s.processUpload(w, r)
	if err != nil {
		status := uploadErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.Log.Errorf("Detection failed: %v", err)
		}
		www.SendError(w, err.Error(), status)
		return
	}
	if www.QueryValue(r, "format") == "json" {
		www.SendJSON(w, res)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.JPEG)))
	w.Header().Set("X-Detections", strconv.Itoa(len(res.Detections)))
	w.Write(res.JPEG)
}

// httpHomeUpload is the Home page's "Upload Image" form
func (s *Server) httpHomeUpload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx := s.newPageContext(w, r, viewHome)
	ctx.Mode = modeUpload
	if !ctx.LoggedIn {
		s.renderPage(w, http.StatusUnauthorized, ctx)
		return
	}
	res, err := s.processUpload(w, r)
	if err != nil {
		status := uploadErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.Log.Errorf("Detection failed: %v", err)
		}
		ctx.Error = err.Error()
		s.renderPage(w, status, ctx)
		return
	}
	ctx.Upload = &UploadResult{
		ImageURL:   template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(res.JPEG)),
		Width:      res.Width,
		Height:     res.Height,
		Detections: res.Detections,
	}
	s.renderPage(w, http.StatusOK, ctx)
}
