package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/event"
	"zchat_go/internal/presence"
	"zchat_go/internal/security"
	"zchat_go/internal/store/sqlite"
)

type relay struct {
	srv    *httptest.Server
	tokens *security.TokenService
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	tokens := security.NewTokenService("test-secret", time.Hour)
	h := MakeHandler(
		NewHub(),
		tokens,
		sqlite.NewUserRepo(db),
		sqlite.NewParticipantRepo(db),
		presence.NewMemoryStore(),
		[]string{"http://localhost:5173"},
	)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &relay{srv: srv, tokens: tokens}
}

func (r *relay) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	token, err := r.tokens.Issue(identity)
	require.NoError(t, err)
	d := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(r.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	e, err := event.Decode(data)
	require.NoError(t, err)
	return e
}

func send(t *testing.T, conn *websocket.Conn, e event.Outbound) {
	t.Helper()
	data, err := event.Encode(e)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestRelay_PresenceAndSignaling(t *testing.T) {
	r := newRelay(t)

	ann := r.dial(t, "ann@example.com")
	assert.Equal(t, event.Roster{Online: []string{"ann@example.com"}}, readEvent(t, ann))

	bob := r.dial(t, "bob@example.com")
	assert.Equal(t, event.Roster{Online: []string{"ann@example.com", "bob@example.com"}}, readEvent(t, bob))
	assert.Equal(t, event.UserOnline{Identity: "bob@example.com"}, readEvent(t, ann))

	send(t, ann, event.CallInitiate{PeerIdentity: "bob@example.com"})
	assert.Equal(t, event.CallIncoming{PeerIdentity: "ann@example.com"}, readEvent(t, bob))

	send(t, bob, event.CallAccept{PeerIdentity: "ann@example.com"})
	assert.Equal(t, event.CallAccepted{PeerIdentity: "bob@example.com"}, readEvent(t, ann))

	send(t, ann, event.TypingNotice{PeerIdentity: "bob@example.com", IsTyping: true})
	assert.Equal(t, event.Typing{SenderIdentity: "ann@example.com", IsTyping: true}, readEvent(t, bob))

	send(t, bob, event.CallEnd{PeerIdentity: "ann@example.com"})
	assert.Equal(t, event.CallEnded{PeerIdentity: "bob@example.com"}, readEvent(t, ann))

	require.NoError(t, bob.Close())
	assert.Equal(t, event.UserOffline{Identity: "bob@example.com"}, readEvent(t, ann))
}

func TestRelay_CallToUnreachablePeerIsRejected(t *testing.T) {
	r := newRelay(t)
	ann := r.dial(t, "ann@example.com")
	readEvent(t, ann)

	send(t, ann, event.CallInitiate{PeerIdentity: "ghost@example.com"})
	assert.Equal(t, event.CallRejected{PeerIdentity: "ghost@example.com"}, readEvent(t, ann))
}

func TestRelay_RejectsMissingToken(t *testing.T) {
	r := newRelay(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(r.srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMakeCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{" http://localhost:5173 "})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "native clients send no Origin")

	req.Header.Set("Origin", "http://LOCALHOST:5173")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, makeCheckOrigin([]string{"*"})(req))
}

func TestExtractTokenFromWSRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer abc")
	tok, err := extractTokenFromWSRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Sec-WebSocket-Protocol", "bearer, xyz")
	tok, err = extractTokenFromWSRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = extractTokenFromWSRequest(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Error(t, err)
}
