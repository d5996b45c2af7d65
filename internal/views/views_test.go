package views

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warbler/internal/forms"
	"warbler/internal/search"
	"warbler/internal/session"
	"warbler/internal/store"
)

func TestRenderMessageFormWithErrors(t *testing.T) {
	req := require.New(t)
	rr := httptest.NewRecorder()

	err := Render(rr, http.StatusOK, "message_new.html", PageData{
		CurrentUser: &UserView{ID: 1, Username: "testuser", ImageURL: store.DefaultImageURL},
		Values:      map[string]string{"text": ""},
		Errors:      forms.Errors{"text": {"This field is required."}},
	})
	req.NoError(err)
	req.Equal(http.StatusOK, rr.Code)
	req.Equal("text/html; charset=utf-8", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	req.Contains(body, "This field is required.")
	req.Contains(body, "Add my message!</button>")
	req.Contains(body, `href="/logout"`)
}

func TestRenderFlashesAndEscapesText(t *testing.T) {
	req := require.New(t)
	rr := httptest.NewRecorder()

	err := Render(rr, http.StatusOK, "message_show.html", PageData{
		Flashes: []session.Flash{{Category: "danger", Message: "Access unauthorized."}},
		Message: &MessageView{ID: 7, Text: "<script>alert(1)</script>", Username: "alice", Timestamp: time.Now()},
	})
	req.NoError(err)

	body := rr.Body.String()
	req.Contains(body, `<div class="alert alert-danger">Access unauthorized.</div>`)
	req.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;")
	req.NotContains(body, "/messages/7/delete")
}

func TestRenderSignupKeepsValuesButNotPassword(t *testing.T) {
	req := require.New(t)
	rr := httptest.NewRecorder()

	err := Render(rr, http.StatusOK, "signup.html", PageData{
		Values: map[string]string{"username": "alice", "password": "hunter22"},
		Errors: forms.Errors{"email": {"This field is required."}},
	})
	req.NoError(err)

	body := rr.Body.String()
	req.Contains(body, `value="alice"`)
	req.NotContains(body, "hunter22")
	req.Contains(body, "This field is required.")
}

func TestRenderNotFoundStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, Render(rr, http.StatusNotFound, "not_found.html", PageData{Title: "Not found"}))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "could not be found")
}

func TestRenderUnknownPage(t *testing.T) {
	rr := httptest.NewRecorder()
	require.Error(t, Render(rr, http.StatusOK, "missing.html", PageData{}))
	require.Zero(t, rr.Body.Len())
}

func TestMessagesMarksOwnedAsDeletable(t *testing.T) {
	req := require.New(t)
	msgs := []store.Message{
		{ID: 1, Text: "mine", UserID: 10, Username: "alice"},
		{ID: 2, Text: "theirs", UserID: 20, Username: "bob"},
	}

	views := Messages(msgs, 10)
	req.Len(views, 2)
	req.True(views[0].CanDelete)
	req.False(views[1].CanDelete)

	anon := Messages(msgs, 0)
	req.False(anon[0].CanDelete)
	req.False(anon[1].CanDelete)
}

func TestSearchResults(t *testing.T) {
	views := SearchResults([]search.Result{{MessageID: 3, UserID: 4, Username: "carol", Text: "hi"}}, 4)
	require.Equal(t, []MessageView{{ID: 3, Text: "hi", UserID: 4, Username: "carol", CanDelete: true}}, views)
}

func TestStaticServesDefaultPicture(t *testing.T) {
	rr := httptest.NewRecorder()
	Static().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, store.DefaultImageURL, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "<svg")
}
