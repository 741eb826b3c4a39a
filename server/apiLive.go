package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyclopcam/helmetcam/pkg/camera"
	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/server/detect"
	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Messages that the browser sends us
type liveCommand struct {
	Command string `json:"command"`
}

// Text messages that we send to the browser.
// Every "frame" message follows the binary JPEG message of the same frame.
type liveMessage struct {
	Type       string         `json:"type"` // "frame" or "end"
	Frame      int            `json:"frame"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	Detections []nn.Detection `json:"detections,omitempty"`
	Error      string         `json:"error,omitempty"` // Only on "end"
}

// Live websocket timeouts. The browser's websocket answers our pings automatically,
// so a peer that misses a pong for liveTimeouts.pong is gone.
type liveTimeouts struct {
	write time.Duration
	pong  time.Duration
}

var defaultLiveTimeouts = liveTimeouts{
	write: 10 * time.Second,
	pong:  30 * time.Second,
}

func (t liveTimeouts) pingPeriod() time.Duration {
	return t.pong * 9 / 10
}

// httpLive streams annotated webcam frames over a websocket, until the browser
// sends "stop", disconnects, or the camera fails.
func (s *Server) httpLive(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	if !s.liveBusy.CompareAndSwap(false, true) {
		www.SendError(w, "The webcam is already in use by another live session", http.StatusConflict)
		return
	}
	defer s.liveBusy.Store(false)

	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already sent an HTTP error
		s.Log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	s.Log.Infof("Live session started by %v", user.Username)

	timeouts := s.liveTimeouts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.liveCommandReader(c, timeouts, cancel)
	go livePinger(ctx, c, timeouts)

	stream := camera.NewStream(s.openCamera, s.Config.Camera.MaxFPS)
	stats, err := s.Detector.RunLive(ctx, stream.Frames(ctx), func(f *detect.LiveFrame) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.SetWriteDeadline(time.Now().Add(timeouts.write))
		if err := c.WriteMessage(websocket.BinaryMessage, f.Result.JPEG); err != nil {
			return err
		}
		c.SetWriteDeadline(time.Now().Add(timeouts.write))
		return c.WriteJSON(&liveMessage{
			Type:       "frame",
			Frame:      f.Index,
			Width:      f.Result.Width,
			Height:     f.Result.Height,
			Detections: f.Result.Detections,
		})
	})

	end := liveMessage{Type: "end", Frame: stats.Frames}
	if err != nil {
		s.Log.Warnf("Live session ended with error: %v", err)
		end.Error = err.Error()
	}
	s.Log.Infof("Live session ended after %v frames in %.1f seconds", stats.Frames, stats.Duration.Seconds())
	// These fail harmlessly if the browser has already gone
	c.SetWriteDeadline(time.Now().Add(timeouts.write))
	c.WriteJSON(&end)
	c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// livePinger pings the browser until ctx is done. WriteControl is safe to call
// concurrently with the frame writes.
func livePinger(ctx context.Context, c *websocket.Conn, timeouts liveTimeouts) {
	ticker := time.NewTicker(timeouts.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeouts.write)); err != nil {
				return
			}
		}
	}
}

// liveCommandReader cancels the session when the browser asks us to stop, or goes away.
// Every pong or message from the browser extends the read deadline.
func (s *Server) liveCommandReader(c *websocket.Conn, timeouts liveTimeouts, cancel context.CancelFunc) {
	defer cancel()
	extend := func() {
		c.SetReadDeadline(time.Now().Add(timeouts.pong))
	}
	extend()
	c.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		extend()
		if msgType != websocket.TextMessage {
			continue
		}
		cmd := liveCommand{}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.Log.Warnf("Invalid live command: %v", err)
			continue
		}
		switch cmd.Command {
		case "stop":
			s.Log.Infof("Live session stopped by user")
			return
		default:
			s.Log.Warnf("Unknown live command '%v'", cmd.Command)
		}
	}
}
