package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/api"
	"zchat_go/internal/config"
	"zchat_go/internal/domain"
	"zchat_go/internal/presence"
	"zchat_go/internal/security"
	"zchat_go/internal/store/sqlite"
	"zchat_go/internal/ws"
	"zchat_go/pkg/logger"
)

type testRelay struct {
	srv    *httptest.Server
	tokens *security.TokenService
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	cfg := &config.RelayConfig{
		CORSOrigins: []string{"http://localhost:5173"},
		Debug:       true,
		MaxPageSize: 100,
	}
	repos := Repositories{
		Users:         sqlite.NewUserRepo(db),
		Conversations: sqlite.NewConversationRepo(db),
		Participants:  sqlite.NewParticipantRepo(db),
		Messages:      sqlite.NewMessageRepo(db),
	}
	tokens := security.NewTokenService("test-secret", time.Hour)
	srv := httptest.NewServer(NewRouter(cfg, repos, ws.NewHub(), presence.NewMemoryStore(), tokens, logger.Discard()))
	t.Cleanup(srv.Close)
	return &testRelay{srv: srv, tokens: tokens}
}

func (tr *testRelay) client(t *testing.T, identity string) *api.Client {
	t.Helper()
	token, err := tr.tokens.Issue(identity)
	require.NoError(t, err)
	c := api.NewClient(tr.srv.URL+"/api", token)
	c.PageSize = 2
	return c
}

func TestRouter_RequiresBearer(t *testing.T) {
	tr := newTestRelay(t)
	resp, err := http.Get(tr.srv.URL + "/api/messages/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_Health(t *testing.T) {
	tr := newTestRelay(t)
	resp, err := http.Get(tr.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_DebugTokenIssue(t *testing.T) {
	tr := newTestRelay(t)
	body, _ := json.Marshal(map[string]string{"identity": "ann@example.com"})
	resp, err := http.Post(tr.srv.URL+"/api/auth/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	identity, err := tr.tokens.Identity(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", identity)
}

func TestRouter_ConversationHistoryAndDelete(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	ann := tr.client(t, "ann@example.com")
	bob := tr.client(t, "bob@example.com")

	conv, err := ann.OpenDirect(ctx, "bob@example.com")
	require.NoError(t, err)
	again, err := bob.OpenDirect(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID, "direct conversations are reused")

	var sent []domain.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := ann.SendMessage(ctx, conv.ID, api.SendMessageInput{Content: text})
		require.NoError(t, err)
		assert.Equal(t, "ann@example.com", m.SenderIdentity)
		sent = append(sent, m)
	}

	page, err := bob.FetchOlder(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, sent[2].ID, page.Messages[0].ID)

	page, err = bob.FetchOlder(ctx, conv.ID, page.Messages[1].ID)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent[0].ID, page.Messages[0].ID)

	err = bob.DeleteMessage(ctx, conv.ID, sent[0].ID)
	var fe *api.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusForbidden, fe.Status)

	require.NoError(t, ann.DeleteMessage(ctx, conv.ID, sent[0].ID))
	page, err = bob.FetchOlder(ctx, conv.ID, sent[1].ID)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsDeleted())
}

func TestRouter_OutsiderIsForbidden(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	conv, err := tr.client(t, "ann@example.com").OpenDirect(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = tr.client(t, "eve@example.com").FetchOlder(ctx, conv.ID, 0)
	var fe *api.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusForbidden, fe.Status)
}

func TestRouter_MediaSection(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	ann := tr.client(t, "ann@example.com")
	conv, err := ann.OpenDirect(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = ann.SendMessage(ctx, conv.ID, api.SendMessageInput{Attachments: []domain.Attachment{
		{URL: "/u/a.png", Name: "a.png", MimeType: "image/png"},
		{URL: "/u/b.mp4", Name: "b.mp4", MimeType: "video/mp4"},
	}})
	require.NoError(t, err)
	_, err = ann.SendMessage(ctx, conv.ID, api.SendMessageInput{Content: "text only"})
	require.NoError(t, err)

	page, err := ann.FetchMedia(ctx, conv.ID, domain.MediaKindImage, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "/u/a.png", page.Items[0].URL)
	assert.Equal(t, "ann@example.com", page.Items[0].Sender.Identity)
	assert.False(t, page.HasMore)

	_, err = ann.FetchMedia(ctx, conv.ID, domain.MediaKind("audio"), 0)
	var fe *api.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusBadRequest, fe.Status)
}

func TestWriteError(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidInput:   http.StatusBadRequest,
		domain.ErrForbidden:      http.StatusForbidden,
		domain.ErrNotFound:       http.StatusNotFound,
		errors.New("db is gone"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, err)
		assert.Equal(t, want, rec.Code, err.Error())
	}
}

func TestRequestLoggerAttachesRequestScope(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestID(RequestLogger(logger.NewWithWriter(&buf, "production"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.From(r.Context()).Info("handled")
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/messages/1/2", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "handled", line["msg"])
	assert.Equal(t, http.MethodDelete, line["method"])
	assert.Equal(t, "/api/messages/1/2", line["path"])
	assert.NotEmpty(t, line["request_id"])
}
