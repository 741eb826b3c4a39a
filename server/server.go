package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyclopcam/helmetcam/pkg/camera"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/server/config"
	"github.com/cyclopcam/helmetcam/server/detect"
	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	HotReloadWWW bool
	Log          logs.Log
	Config       *config.Config
	Users        *userdb.UserDB
	Detector     *detect.Service

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	pages      *pageRenderer
	wsUpgrader websocket.Upgrader
	openCamera camera.Opener
	liveBusy   atomic.Bool // Only one live session may hold the camera at a time

	liveTimeouts liveTimeouts
}

// NewServer opens the user database, and sets up the HTTP routes.
// The server takes ownership of model.
func NewServer(logger logs.Log, cfg *config.Config, model *nn.Model, openCamera camera.Opener, hotReloadWWW bool) (*Server, error) {
	users, err := userdb.Open(logger, cfg.DB.DBH())
	if err != nil {
		return nil, err
	}
	pages, err := newPageRenderer(hotReloadWWW)
	if err != nil {
		users.Close()
		return nil, err
	}
	detector := detect.NewService(logger, model, detect.Options{
		Params: nn.DetectionParams{
			ProbabilityThreshold: cfg.Detect.ProbabilityThreshold,
			NmsIouThreshold:      cfg.Detect.NmsIouThreshold,
		},
		JPEGQuality:  cfg.JPEGQuality,
		MaxDimension: cfg.Upload.MaxDimension,
	})
	s := &Server{
		HotReloadWWW: hotReloadWWW,
		Log:          logger,
		Config:       cfg,
		Users:        users,
		Detector:     detector,
		pages:        pages,
		openCamera:   openCamera,
		liveTimeouts: defaultLiveTimeouts,
	}
	if err := s.setupHttpRoutes(); err != nil {
		users.Close()
		return nil, err
	}
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:              port,
		Handler:           s.httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP shutdown error: %v", err)
		}
	}
	s.Close()
	s.Log.Infof("Shutdown complete")
}

// Close releases the model and the database
func (s *Server) Close() {
	s.Detector.Close()
	s.Users.Close()
}
