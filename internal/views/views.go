// Package views renders the HTML pages from embedded templates.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"warbler/internal/forms"
	"warbler/internal/search"
	"warbler/internal/session"
	"warbler/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pages map[string]*template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"fieldArgs": fieldArgs,
	}

	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	pages = make(map[string]*template.Template, len(entries))
	for _, entry := range entries {
		name := strings.TrimPrefix(entry, "templates/")
		if name == "base.html" {
			continue
		}
		pages[name] = template.Must(template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html", entry))
	}
}

// Static serves the embedded stylesheet and images under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// PageData is the single view model every page template receives.
type PageData struct {
	Title       string
	CurrentUser *UserView
	Flashes     []session.Flash
	Values      map[string]string
	Errors      forms.Errors

	User     *UserView
	Message  *MessageView
	Messages []MessageView
	Query    string
	Total    int
	Status   int
}

type UserView struct {
	ID       int64
	Username string
	ImageURL string
	Bio      string
}

type MessageView struct {
	ID        int64
	Text      string
	UserID    int64
	Username  string
	Timestamp time.Time
	CanDelete bool
}

func User(u *store.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{ID: u.ID, Username: u.Username, ImageURL: u.ImageURL, Bio: u.Bio}
}

// Message builds the view of msg for viewerID; only the author gets a delete control.
func Message(msg store.Message, viewerID int64) MessageView {
	return MessageView{
		ID:        msg.ID,
		Text:      msg.Text,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Timestamp: msg.Timestamp,
		CanDelete: viewerID != 0 && msg.OwnedBy(viewerID),
	}
}

func Messages(msgs []store.Message, viewerID int64) []MessageView {
	return lo.Map(msgs, func(msg store.Message, _ int) MessageView {
		return Message(msg, viewerID)
	})
}

func SearchResults(results []search.Result, viewerID int64) []MessageView {
	return lo.Map(results, func(r search.Result, _ int) MessageView {
		return Message(store.Message{
			ID:        r.MessageID,
			Text:      r.Text,
			UserID:    r.UserID,
			Username:  r.Username,
			Timestamp: r.Timestamp,
		}, viewerID)
	})
}

type fieldView struct {
	Name   string
	Type   string
	Label  string
	Value  string
	Errors []string
}

// fieldArgs packs one input for the "field" partial. Passwords are never echoed back.
func fieldArgs(data PageData, name, inputType, label string) fieldView {
	f := fieldView{Name: name, Type: inputType, Label: label, Errors: data.Errors[name]}
	if inputType != "password" {
		f.Value = data.Values[name]
	}
	return f
}

// Render executes the named page into a buffer and writes it with status.
// Nothing is written when execution fails.
func Render(w http.ResponseWriter, status int, name string, data PageData) error {
	page, ok := pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, "base.html", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
