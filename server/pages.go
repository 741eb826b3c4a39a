package server

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"sync"

	"github.com/cyclopcam/helmetcam/pkg/nn"
	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/julienschmidt/httprouter"
)

//go:embed templates
var templatesFS embed.FS

const (
	viewHome   = "home"
	viewLogin  = "login"
	viewSignUp = "signup"
	viewAbout  = "about"
)

const (
	modeUpload = "upload"
	modeLive   = "live"
)

// PageContext is built fresh for every request, and is the only input to a page template
type PageContext struct {
	View     string
	LoggedIn bool
	Username string
	Flash    string // Success message
	Error    string
	Mode     string // Home only: modeUpload or modeLive
	Upload   *UploadResult
}

// UploadResult is the outcome of running an uploaded image through the detector
type UploadResult struct {
	ImageURL   template.URL // data: URL of the annotated JPEG
	Width      int
	Height     int
	Detections []nn.Detection
}

type pageRenderer struct {
	hotReload bool
	fsys      fs.FS
	lock      sync.Mutex
	cache     map[string]*template.Template
}

func newPageRenderer(hotReload bool) (*pageRenderer, error) {
	p := &pageRenderer{
		hotReload: hotReload,
		fsys:      templatesFS,
		cache:     map[string]*template.Template{},
	}
	if hotReload {
		p.fsys = os.DirFS("server")
	}
	// Parse everything up front, so that a broken template fails at startup
	for _, view := range []string{viewHome, viewLogin, viewSignUp, viewAbout} {
		if _, err := p.template(view); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *pageRenderer) template(view string) (*template.Template, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if t := p.cache[view]; t != nil && !p.hotReload {
		return t, nil
	}
	t, err := template.ParseFS(p.fsys, "templates/layout.html", "templates/"+view+".html")
	if err != nil {
		return nil, err
	}
	p.cache[view] = t
	return t, nil
}

func (p *pageRenderer) render(w http.ResponseWriter, status int, ctx *PageContext) {
	t, err := p.template(ctx.View)
	if err != nil {
		panic(err)
	}
	buf := bytes.Buffer{}
	if err := t.ExecuteTemplate(&buf, "layout", ctx); err != nil {
		panic(err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// newPageContext populates the login state from the request's session cookie, and consumes any flash message
func (s *Server) newPageContext(w http.ResponseWriter, r *http.Request, view string) *PageContext {
	ctx := &PageContext{View: view}
	if user := s.userFromRequest(r); user != nil {
		ctx.LoggedIn = true
		ctx.Username = user.Username
	}
	ctx.Flash = takeFlash(w, r)
	return ctx
}

func (s *Server) renderPage(w http.ResponseWriter, status int, ctx *PageContext) {
	s.pages.render(w, status, ctx)
}

// httpRoot sends new visitors to Login, and logged in users to Home
func (s *Server) httpRoot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.userFromRequest(r) == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/home", http.StatusFound)
}

func (s *Server) httpHome(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx := s.newPageContext(w, r, viewHome)
	ctx.Mode = modeUpload
	if r.URL.Query().Get("mode") == modeLive {
		ctx.Mode = modeLive
	}
	status := http.StatusOK
	if !ctx.LoggedIn {
		status = http.StatusUnauthorized
	}
	s.renderPage(w, status, ctx)
}

func (s *Server) httpLoginPage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.renderPage(w, http.StatusOK, s.newPageContext(w, r, viewLogin))
}

func (s *Server) httpSignUpPage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.renderPage(w, http.StatusOK, s.newPageContext(w, r, viewSignUp))
}

func (s *Server) httpAbout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.renderPage(w, http.StatusOK, s.newPageContext(w, r, viewAbout))
}

// userFromRequest returns the logged-in user, or nil
func (s *Server) userFromRequest(r *http.Request) *userdb.User {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return s.Users.UserFromSession(cookie.Value)
}
