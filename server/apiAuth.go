package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/helmetcam/server/userdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const (
	sessionCookie = "session"
	flashCookie   = "flash"
)

const (
	msgLoggedIn        = "Logged in successfully"
	msgInvalidLogin    = "Invalid username or password"
	msgSignedUp        = "You have successfully signed up. Please log in."
	msgUsernameTaken   = "That username is already taken"
	msgEmptyCredential = "Username and password may not be empty"
)

// Flash messages survive a redirect in a short-lived cookie. The cookie holds a key, never the text.
var flashMessages = map[string]string{
	"loggedin": msgLoggedIn,
	"signedup": msgSignedUp,
}

func setFlash(w http.ResponseWriter, key string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    key,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns the pending flash message, and clears it
func takeFlash(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:   flashCookie,
		Path:   "/",
		MaxAge: -1,
	})
	return flashMessages[cookie.Value]
}

func (s *Server) sessionExpiry() time.Time {
	if s.Config.Session.Days == 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, 0, s.Config.Session.Days)
}

func (s *Server) httpLogin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	user := s.Users.VerifyUser(username, password)
	if user == nil {
		s.Log.Infof("Failed login for '%v' from %v", username, r.RemoteAddr)
		ctx := s.newPageContext(w, r, viewLogin)
		ctx.Error = msgInvalidLogin
		s.renderPage(w, http.StatusUnauthorized, ctx)
		return
	}

	expires := s.sessionExpiry()
	token, err := s.Users.CreateSession(user.ID, expires)
	www.Check(err)
	cookie := &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	if !expires.IsZero() {
		cookie.Expires = expires
	}
	http.SetCookie(w, cookie)
	setFlash(w, "loggedin")
	s.Log.Infof("User %v logged in", user.Username)
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (s *Server) httpSignUp(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	_, err := s.Users.CreateUser(username, password)
	if err != nil {
		ctx := s.newPageContext(w, r, viewSignUp)
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, userdb.ErrDuplicateUser):
			ctx.Error = msgUsernameTaken
			status = http.StatusConflict
		case errors.Is(err, userdb.ErrInvalidCredentials):
			ctx.Error = msgEmptyCredential
		default:
			panic(err)
		}
		s.renderPage(w, status, ctx)
		return
	}
	setFlash(w, "signedup")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) httpLogout(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if err := s.Users.DeleteSession(cookie.Value); err != nil {
			s.Log.Warnf("Failed to delete session: %v", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) httpWhoAmI(w http.ResponseWriter, r *http.Request, params httprouter.Params, user *userdb.User) {
	type response struct {
		UserID   int64  `json:"userID"`
		Username string `json:"username"`
	}
	www.SendJSON(w, response{UserID: user.ID, Username: user.Username})
}
