package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed static
var staticWWW embed.FS

// Login and sign-up attempts allowed per client IP, per minute
const credentialAttemptsPerMinute = 10

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User)

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	// protectedAPI creates an HTTP handler that is accessible only with a session cookie
	protectedAPI := func(method, route string, handle authenticatedHandler) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (protected) %v %v", method, r.URL.Path)
			}
			user := s.userFromRequest(r)
			if user == nil {
				www.PanicUnauthorized()
			}
			handle(w, r, params, user)
		})
	}

	// unprotected creates an HTTP handler that is accessible without authentication
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (unprotected) %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// rateLimited is unprotected, with a per-IP limit on request rate
	rateLimited := func(method, route string, handle httprouter.Handle) {
		limited := httprate.Limit(credentialAttemptsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		unprotected(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	// Pages
	unprotected("GET", "/", s.httpRoot)
	unprotected("GET", "/home", s.httpHome)
	unprotected("POST", "/home", s.httpHomeUpload)
	unprotected("GET", "/login", s.httpLoginPage)
	rateLimited("POST", "/login", s.httpLogin)
	unprotected("GET", "/signup", s.httpSignUpPage)
	rateLimited("POST", "/signup", s.httpSignUp)
	unprotected("POST", "/logout", s.httpLogout)
	unprotected("GET", "/about", s.httpAbout)

	// API
	unprotected("GET", "/api/ping", s.httpPing)
	protectedAPI("GET", "/api/auth/whoami", s.httpWhoAmI)
	protectedAPI("GET", "/api/labels", s.httpLabels)
	protectedAPI("GET", "/api/stats", s.httpStats)
	protectedAPI("DELETE", "/api/stats", s.httpResetStats)
	protectedAPI("POST", "/api/detect", s.httpDetect)
	protectedAPI("GET", "/api/live", s.httpLive)

	var fsys fs.FS
	fsysRoot := "static"
	fsys = staticWWW
	if s.HotReloadWWW {
		relRoot := "server/static"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
	}

	// Our static file names are not content-hashed, so they are never immutable
	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, false, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{Time: time.Now().Unix()})
}

func (s *Server) httpLabels(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	www.SendJSON(w, s.Detector.Labels())
}

// httpStats reports how long each stage of the detection pipeline takes
func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	www.SendJSON(w, s.Detector.Timings())
}

func (s *Server) httpResetStats(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	s.Detector.ResetTimings()
	www.SendOK(w)
}
