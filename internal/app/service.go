package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"warbler/internal/access"
	"warbler/internal/auth"
	"warbler/internal/authpw"
	"warbler/internal/config"
	"warbler/internal/forms"
	"warbler/internal/search"
	"warbler/internal/session"
	"warbler/internal/store"
)

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	FindUserByID(context.Context, int64) (*store.User, error)
	FindUserByUsername(context.Context, string) (*store.User, error)
	FindUserByEmail(context.Context, string) (*store.User, error)
	InsertMessage(context.Context, store.Message) (store.Message, error)
	FindMessage(context.Context, int64) (*store.Message, error)
	DeleteMessage(context.Context, int64, int64) (bool, error)
	ListMessagesByUser(context.Context, int64, int) ([]store.Message, error)
	ListRecentMessages(context.Context, int) ([]store.Message, error)
	Ping(context.Context) error
}

type sessionStore interface {
	Create(context.Context, session.Data) (string, error)
	Load(context.Context, string) (session.Data, error)
	Save(context.Context, string, session.Data) error
	Destroy(context.Context, string) error
	Ping(context.Context) error
	TTL() time.Duration
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexMessage(search.MessageRecord)
	DeleteMessage(int64)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   searchIndex
	auth     *authpw.Service
}

func New(cfg config.Config, st dataStore, sessions sessionStore, index searchIndex) *Service {
	if cfg.TimelineLimit <= 0 {
		cfg.TimelineLimit = 100
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		search:   index,
		auth:     authpw.NewService(st, cfg.BcryptCost),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Actor resolves the current user stored in a session. A session whose user
// no longer exists is anonymous.
func (s *Service) Actor(ctx context.Context, data session.Data) (access.Actor, *store.User, error) {
	if !data.LoggedIn() {
		return access.Anonymous(), nil, nil
	}
	user, err := s.store.FindUserByID(ctx, data.UserID)
	if err != nil {
		return access.Anonymous(), nil, err
	}
	if user == nil {
		return access.Anonymous(), nil, nil
	}
	return access.User(user.ID), user, nil
}

// LoadSession verifies a cookie token and loads the session it names.
func (s *Service) LoadSession(ctx context.Context, token string) (string, session.Data, error) {
	id, err := auth.ParseToken([]byte(s.cfg.SecretKey), token)
	if err != nil {
		return "", session.Data{}, err
	}
	data, err := s.sessions.Load(ctx, id)
	if err != nil {
		return "", session.Data{}, err
	}
	return id, data, nil
}

// StartSession stores data under a new session id and returns the id with
// its signed cookie token.
func (s *Service) StartSession(ctx context.Context, data session.Data) (id, token string, err error) {
	id, err = s.sessions.Create(ctx, data)
	if err != nil {
		return "", "", err
	}
	token, err = auth.IssueToken([]byte(s.cfg.SecretKey), id, s.sessions.TTL())
	if err != nil {
		_ = s.sessions.Destroy(ctx, id)
		return "", "", err
	}
	return id, token, nil
}

func (s *Service) SaveSession(ctx context.Context, id string, data session.Data) error {
	return s.sessions.Save(ctx, id, data)
}

func (s *Service) EndSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.sessions.Destroy(ctx, id)
}

func (s *Service) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

func (s *Service) CookieSecure() bool {
	return s.cfg.CookieSecure
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	user, err := s.auth.SignUp(ctx, req)
	var errs forms.Errors
	if errors.As(err, &errs) {
		return store.User{}, validationError(errs)
	}
	return user, err
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error) {
	user, err := s.auth.SignIn(ctx, req)
	var errs forms.Errors
	if errors.As(err, &errs) {
		return store.User{}, validationError(errs)
	}
	return user, err
}

// AuthorizeCreate reports whether actor may open the new-message form.
func (s *Service) AuthorizeCreate(actor access.Actor) error {
	return decisionError(access.Decide(actor, access.ActionCreate, nil), "Message")
}

// CreateMessage stores trimmed text as a new message owned by actor.
func (s *Service) CreateMessage(ctx context.Context, actor access.Actor, text string) (store.Message, error) {
	if err := s.AuthorizeCreate(actor); err != nil {
		return store.Message{}, err
	}

	form := forms.MessageForm{Text: strings.TrimSpace(text)}
	if errs := forms.Validate(form); errs != nil {
		return store.Message{}, validationError(errs)
	}

	msg, err := s.store.InsertMessage(ctx, store.Message{
		Text:      form.Text,
		UserID:    actor.UserID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("create message: %w", err)
	}

	if stored, err := s.store.FindMessage(ctx, msg.ID); err == nil && stored != nil {
		msg = *stored
	}
	s.search.IndexMessage(messageRecord(msg))
	return msg, nil
}

// GetMessage loads a message for display. Unknown or malformed ids are not found.
func (s *Service) GetMessage(ctx context.Context, actor access.Actor, rawID string) (store.Message, error) {
	msg, err := s.lookupMessage(ctx, rawID)
	if err != nil {
		return store.Message{}, err
	}
	if err := decisionError(access.Decide(actor, access.ActionView, resourceOf(msg)), "Message"); err != nil {
		return store.Message{}, err
	}
	return *msg, nil
}

// DeleteMessage removes a message owned by actor. The checks run in order:
// authentication, existence, then ownership.
func (s *Service) DeleteMessage(ctx context.Context, actor access.Actor, rawID string) (store.Message, error) {
	var msg *store.Message
	if actor.Authenticated {
		found, err := s.lookupMessage(ctx, rawID)
		if err != nil {
			return store.Message{}, err
		}
		msg = found
	}
	if err := decisionError(access.Decide(actor, access.ActionDelete, resourceOf(msg)), "Message"); err != nil {
		return store.Message{}, err
	}

	deleted, err := s.store.DeleteMessage(ctx, msg.ID, actor.UserID)
	if err != nil {
		return store.Message{}, err
	}
	if !deleted {
		return store.Message{}, notFound("Message")
	}
	s.search.DeleteMessage(msg.ID)
	return *msg, nil
}

// UserPage returns a user and their newest messages.
func (s *Service) UserPage(ctx context.Context, rawID string) (store.User, []store.Message, error) {
	id, ok := parseID(rawID)
	if !ok {
		return store.User{}, nil, notFound("User")
	}
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return store.User{}, nil, err
	}
	if user == nil {
		return store.User{}, nil, notFound("User")
	}
	messages, err := s.store.ListMessagesByUser(ctx, id, s.cfg.TimelineLimit)
	if err != nil {
		return store.User{}, nil, err
	}
	return *user, messages, nil
}

func (s *Service) Timeline(ctx context.Context) ([]store.Message, error) {
	return s.store.ListRecentMessages(ctx, s.cfg.TimelineLimit)
}

func (s *Service) Search(ctx context.Context, text string) search.Response {
	return s.search.Search(ctx, search.Query{Text: text, Limit: s.cfg.TimelineLimit})
}

// lookupMessage returns a nil message, not an error, for unknown ids so the
// access decision can report NotFound.
func (s *Service) lookupMessage(ctx context.Context, rawID string) (*store.Message, error) {
	id, ok := parseID(rawID)
	if !ok {
		return nil, nil
	}
	return s.store.FindMessage(ctx, id)
}

func resourceOf(msg *store.Message) *access.Resource {
	if msg == nil {
		return nil
	}
	return &access.Resource{OwnerID: msg.UserID}
}

func messageRecord(msg store.Message) search.MessageRecord {
	return search.MessageRecord{
		ID:        msg.ID,
		Text:      msg.Text,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Timestamp: msg.Timestamp.Unix(),
	}
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
