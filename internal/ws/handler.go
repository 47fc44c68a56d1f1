package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"zchat_go/internal/domain"
	"zchat_go/internal/event"
	"zchat_go/internal/presence"
	"zchat_go/internal/security"
	"zchat_go/pkg/logger"
)

const maxFrameSize = 64 << 10

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits requests without an Origin header (native clients)
// and browser origins from the allow list. "*" admits every origin.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, all := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || all {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// relayed maps a client command to the event its peer receives. The sender
// becomes the peer from the receiver's point of view.
func relayed(e event.Outbound, sender string) event.Inbound {
	switch v := e.(type) {
	case event.CallInitiate:
		return event.CallIncoming{PeerIdentity: sender}
	case event.CallAccept:
		return event.CallAccepted{PeerIdentity: sender}
	case event.CallReject:
		return event.CallRejected{PeerIdentity: sender}
	case event.CallCancel:
		return event.CallCancelled{PeerIdentity: sender}
	case event.CallEnd:
		return event.CallEnded{PeerIdentity: sender}
	case event.TypingNotice:
		return event.Typing{SenderIdentity: sender, ConversationID: v.ConversationID, IsTyping: v.IsTyping}
	}
	return nil
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// announces presence, then relays client commands:
//   - call-initiate / call-accept / call-reject / call-cancel / call-end -> forward to the peer
//   - typing -> forward to the peer, scoped to a conversation both share when given
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	users domain.UserRepository,
	participants domain.ParticipantRepository,
	online presence.Store,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		identity, err := tokens.Identity(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		lg := logger.From(r.Context()).With("component", "ws", "identity", identity)

		user, err := users.GetOrCreate(r.Context(), identity)
		if err != nil {
			lg.Error("resolve user", "err", err)
			http.Error(w, "user lookup failed", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrameSize)

		// The request context ends with the handler; presence cleanup must
		// outlive it.
		ctx := context.WithoutCancel(r.Context())

		c := hub.Register(identity, conn)
		first, err := online.Add(ctx, identity)
		if err != nil {
			lg.Warn("presence add", "err", err)
		}
		defer func() {
			hub.Unregister(c)
			last, err := online.Remove(ctx, identity)
			if err != nil {
				lg.Warn("presence remove", "err", err)
				return
			}
			if last {
				hub.Broadcast(event.UserOffline{Identity: identity}, identity)
			}
		}()

		roster, err := online.Online(ctx)
		if err != nil {
			lg.Warn("roster", "err", err)
			roster = []string{identity}
		}
		hub.deliver([]*Conn{c}, mustEncode(event.Roster{Online: roster}))
		if first {
			hub.Broadcast(event.UserOnline{Identity: identity}, identity)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					lg.Info("read", "err", err)
				}
				return
			}

			cmd, err := event.DecodeOutbound(data)
			if err != nil {
				lg.Debug("drop frame", "err", err)
				continue
			}

			peer := event.Peer(cmd)
			if peer == "" || peer == identity {
				lg.Debug("no usable peer", "event", cmd.Name())
				continue
			}

			if t, ok := cmd.(event.TypingNotice); ok && t.ConversationID != 0 {
				member, err := participants.IsParticipant(ctx, t.ConversationID, user.ID)
				if err != nil || !member {
					lg.Debug("typing not allowed", "conversation_id", t.ConversationID)
					continue
				}
			}

			n := hub.SendTo([]string{peer}, relayed(cmd, identity))
			if n == 0 {
				if _, ok := cmd.(event.CallInitiate); ok {
					// The caller raced the peer going offline.
					hub.deliver([]*Conn{c}, mustEncode(event.CallRejected{PeerIdentity: peer}))
				}
			}
		}
	}
}

func mustEncode(e event.Event) []byte {
	data, err := event.Encode(e)
	if err != nil {
		panic(fmt.Sprintf("ws: encode %s: %v", e.Name(), err))
	}
	return data
}
