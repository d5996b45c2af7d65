package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"warbler/internal/access"
	"warbler/internal/auth"
	"warbler/internal/authpw"
	"warbler/internal/forms"
	"warbler/internal/session"
	"warbler/internal/store"
	"warbler/internal/views"
)

type HTTPServer struct {
	service *Service
	static  http.Handler
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service, static: views.Static()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.withSession(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/static/") {
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.static.ServeHTTP(w, r)
		return
	}

	if isRead(r) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if isRead(r) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, ping := range map[string]func(context.Context) error{
			"database": s.service.Ping,
			"sessions": s.service.PingSessions,
		} {
			if err := ping(ctx); err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks[name] = map[string]any{"status": "error", "error": err.Error()}
				continue
			}
			checks[name] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 0:
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.handleHome(w, r)

	case len(parts) == 1 && parts[0] == "signup":
		switch {
		case isRead(r):
			s.render(w, r, http.StatusOK, "signup.html", views.PageData{Title: "Sign up"})
		case r.Method == http.MethodPost:
			s.handleSignup(w, r)
		default:
			s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}

	case len(parts) == 1 && parts[0] == "login":
		switch {
		case isRead(r):
			s.render(w, r, http.StatusOK, "login.html", views.PageData{Title: "Log in"})
		case r.Method == http.MethodPost:
			s.handleLogin(w, r)
		default:
			s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}

	case len(parts) == 1 && parts[0] == "logout":
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.handleLogout(w, r)

	case len(parts) == 1 && parts[0] == "search":
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.handleSearch(w, r)

	case len(parts) == 2 && parts[0] == "users":
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.handleUser(w, r, parts[1])

	case len(parts) == 2 && parts[0] == "messages" && parts[1] == "new":
		switch {
		case isRead(r):
			s.handleNewMessageForm(w, r)
		case r.Method == http.MethodPost:
			s.handleCreateMessage(w, r)
		default:
			s.methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}

	case len(parts) == 2 && parts[0] == "messages":
		if !isRead(r) {
			s.methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.handleShowMessage(w, r, parts[1])

	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "delete":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r, http.MethodPost)
			return
		}
		s.handleDeleteMessage(w, r, parts[1])

	default:
		s.render(w, r, http.StatusNotFound, "not_found.html", views.PageData{Title: "Not found"})
	}
}

func (s *HTTPServer) handleHome(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	data := views.PageData{Title: "Home"}
	if st.actor.Authenticated {
		messages, err := s.service.Timeline(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.Messages = views.Messages(messages, st.actor.UserID)
	}
	s.render(w, r, http.StatusOK, "home.html", data)
}

func (s *HTTPServer) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid form body", nil))
		return
	}
	page := views.PageData{Title: "Sign up", Values: formValues(r, "username", "email", "image_url")}

	user, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		ImageURL: r.PostFormValue("image_url"),
	})
	if errs, ok := fieldErrors(err); ok {
		page.Errors = errs
		s.render(w, r, http.StatusOK, "signup.html", page)
		return
	}
	if errors.Is(err, authpw.ErrUsernameTaken) {
		s.flash(r, "danger", "Username already taken")
		s.render(w, r, http.StatusOK, "signup.html", page)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logIn(w, r, user)
	s.redirect(w, r, "/")
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid form body", nil))
		return
	}
	page := views.PageData{Title: "Log in", Values: formValues(r, "username")}

	user, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	})
	if errs, ok := fieldErrors(err); ok {
		page.Errors = errs
		s.render(w, r, http.StatusOK, "login.html", page)
		return
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		s.flash(r, "danger", "Invalid credentials.")
		s.render(w, r, http.StatusOK, "login.html", page)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.flash(r, "success", fmt.Sprintf("Hello, %s!", user.Username))
	s.logIn(w, r, user)
	s.redirect(w, r, "/")
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	st.data.UserID = 0
	st.actor, st.user = access.Anonymous(), nil
	s.flash(r, "success", "You have successfully logged out.")
	s.rotate(w, r)
	s.redirect(w, r, "/login")
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	resp := s.service.Search(r.Context(), r.URL.Query().Get("q"))
	s.render(w, r, http.StatusOK, "search.html", views.PageData{
		Title:    "Search",
		Query:    resp.Query,
		Total:    resp.Total,
		Messages: views.SearchResults(resp.Results, st.actor.UserID),
	})
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, rawID string) {
	st := stateFrom(r)
	user, messages, err := s.service.UserPage(r.Context(), rawID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "user.html", views.PageData{
		Title:    "@" + user.Username,
		User:     views.User(&user),
		Messages: views.Messages(messages, st.actor.UserID),
		Total:    len(messages),
	})
}

func (s *HTTPServer) handleNewMessageForm(w http.ResponseWriter, r *http.Request) {
	if err := s.service.AuthorizeCreate(stateFrom(r).actor); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "message_new.html", views.PageData{Title: "New message"})
}

func (s *HTTPServer) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid form body", nil))
		return
	}
	st := stateFrom(r)
	text := r.PostFormValue("text")

	_, err := s.service.CreateMessage(r.Context(), st.actor, text)
	if errs, ok := fieldErrors(err); ok {
		s.render(w, r, http.StatusOK, "message_new.html", views.PageData{
			Title:  "New message",
			Values: map[string]string{"text": text},
			Errors: errs,
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.redirect(w, r, fmt.Sprintf("/users/%d", st.actor.UserID))
}

func (s *HTTPServer) handleShowMessage(w http.ResponseWriter, r *http.Request, rawID string) {
	st := stateFrom(r)
	msg, err := s.service.GetMessage(r.Context(), st.actor, rawID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := views.Message(msg, st.actor.UserID)
	s.render(w, r, http.StatusOK, "message_show.html", views.PageData{
		Title:   "@" + msg.Username,
		Message: &view,
	})
}

func (s *HTTPServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request, rawID string) {
	st := stateFrom(r)
	if _, err := s.service.DeleteMessage(r.Context(), st.actor, rawID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.redirect(w, r, fmt.Sprintf("/users/%d", st.actor.UserID))
}

// fail renders the outcome for err: access denials redirect home with a
// flash, missing resources get the 404 page and everything else is a 500.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, _ := mapError(err)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		s.flash(r, "danger", message)
		s.redirect(w, r, "/")
	case http.StatusNotFound:
		s.render(w, r, http.StatusNotFound, "not_found.html", views.PageData{Title: message})
	default:
		if status >= http.StatusInternalServerError {
			log.Printf(`{"request_id":"%s","code":"%s","error":%q}`, requestIDFrom(r), code, err.Error())
		}
		s.render(w, r, status, "error.html", views.PageData{Title: message, Status: status})
	}
}

func (s *HTTPServer) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 && allowed[0] == http.MethodGet {
		allowed = append(allowed, http.MethodHead)
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	s.render(w, r, http.StatusMethodNotAllowed, "error.html", views.PageData{
		Title:  "Method not allowed",
		Status: http.StatusMethodNotAllowed,
	})
}

// render consumes pending flashes into the page, persists the session and
// writes the page. HEAD responses have no body, so flashes stay pending.
func (s *HTTPServer) render(w http.ResponseWriter, r *http.Request, status int, name string, data views.PageData) {
	st := stateFrom(r)
	if len(st.data.Flashes) > 0 && r.Method != http.MethodHead {
		data.Flashes = st.data.Flashes
		st.data.Flashes = nil
		// Flashes raised during this request never reached a stored session.
		st.dirty = st.sessionID != ""
	}
	data.CurrentUser = views.User(st.user)
	s.commit(w, r)

	if err := views.Render(w, status, name, data); err != nil {
		log.Printf(`{"request_id":"%s","code":"RENDER_FAILED","error":%q}`, requestIDFrom(r), err.Error())
		http.Error(w, "Server error", http.StatusInternalServerError)
	}
}

func (s *HTTPServer) redirect(w http.ResponseWriter, r *http.Request, target string) {
	s.commit(w, r)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) flash(r *http.Request, category, message string) {
	st := stateFrom(r)
	st.data.Flashes = append(st.data.Flashes, session.Flash{Category: category, Message: message})
	st.dirty = true
}

func (s *HTTPServer) logIn(w http.ResponseWriter, r *http.Request, user store.User) {
	st := stateFrom(r)
	st.data.UserID = user.ID
	st.actor, st.user = access.User(user.ID), &user
	s.rotate(w, r)
}

// rotate moves the session data to a fresh session id so that a login or
// logout never reuses an id issued before it.
func (s *HTTPServer) rotate(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	if err := s.service.EndSession(r.Context(), st.sessionID); err != nil {
		log.Printf("session: destroy failed: %v", err)
	}
	st.sessionID = ""
	st.dirty = true
	s.commit(w, r)
}

// commit writes pending session changes, creating the session and its cookie
// when the client has none yet.
func (s *HTTPServer) commit(w http.ResponseWriter, r *http.Request) {
	st := stateFrom(r)
	if !st.dirty {
		return
	}
	if st.sessionID == "" {
		id, token, err := s.service.StartSession(r.Context(), st.data)
		if err != nil {
			log.Printf("session: start failed: %v", err)
			return
		}
		st.sessionID = id
		s.setSessionCookie(w, token)
	} else if err := s.service.SaveSession(r.Context(), st.sessionID, st.data); err != nil {
		log.Printf("session: save failed: %v", err)
		return
	}
	st.dirty = false
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.service.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.service.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

// requestState is the session context of one request. Handlers read the
// actor from it and stage session changes on it.
type requestState struct {
	sessionID string
	data      session.Data
	dirty     bool
	actor     access.Actor
	user      *store.User
}

type requestStateKey struct{}

func stateFrom(r *http.Request) *requestState {
	if st, ok := r.Context().Value(requestStateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{}
}

// withSession resolves the session cookie into a requestState. Bad or
// expired cookies and unknown sessions leave the request anonymous.
func (s *HTTPServer) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/static/") || strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		st := &requestState{}
		if cookie, err := r.Cookie(auth.CookieName); err == nil && cookie.Value != "" {
			id, data, err := s.service.LoadSession(r.Context(), cookie.Value)
			switch {
			case err == nil:
				st.sessionID, st.data = id, data
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrNotFound):
			default:
				log.Printf("session: load failed: %v", err)
			}
		}

		actor, user, err := s.service.Actor(r.Context(), st.data)
		if err != nil {
			log.Printf("session: resolve user %d: %v", st.data.UserID, err)
		} else if user == nil && st.data.LoggedIn() {
			st.data.UserID = 0
			st.dirty = true
		}
		st.actor, st.user = actor, user

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestStateKey{}, st)))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func isRead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func formValues(r *http.Request, fields ...string) map[string]string {
	values := make(map[string]string, len(fields))
	for _, field := range fields {
		values[field] = r.PostFormValue(field)
	}
	return values
}

// fieldErrors extracts per-field messages from a validation error.
func fieldErrors(err error) (forms.Errors, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		return nil, false
	}
	errs, ok := domainErr.Details.(forms.Errors)
	return errs, ok
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", msgAccessUnauthorized, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
