package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"zchat_go/internal/domain"
	"zchat_go/internal/event"
	"zchat_go/internal/service"
	"zchat_go/internal/ws"
	"zchat_go/pkg/logger"
)

type messageCreateRequest struct {
	Content     string              `json:"content"`
	Type        domain.MessageType  `json:"type"`
	Attachments []domain.Attachment `json:"attachments"`
}

// pageParams reads the last_message_id cursor and limit query parameters.
func pageParams(w http.ResponseWriter, r *http.Request) (cursor int64, limit int, ok bool) {
	q := r.URL.Query()
	if s := q.Get("last_message_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid last_message_id"})
			return 0, 0, false
		}
		cursor = v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = v
	}
	return cursor, limit, true
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, ok := pathID(w, r, "conversationID")
		if !ok {
			return
		}
		cursor, limit, ok := pageParams(w, r)
		if !ok {
			return
		}

		page, err := msgSvc.History(r.Context(), currentUser.ID, convID, cursor, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleListMedia(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, ok := pathID(w, r, "conversationID")
		if !ok {
			return
		}
		kind, err := domain.ParseMediaKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "media type must be image, video or file"})
			return
		}
		cursor, limit, ok := pageParams(w, r)
		if !ok {
			return
		}

		page, err := msgSvc.Media(r.Context(), currentUser.ID, convID, kind, cursor, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleCreateMessage(msgSvc *service.MessageService, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, ok := pathID(w, r, "conversationID")
		if !ok {
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.Create(r.Context(), currentUser.ID, service.MessageCreateInput{
			ConversationID: convID,
			Content:        req.Content,
			Type:           req.Type,
			Attachments:    req.Attachments,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		broadcast(r, msgSvc, hub, convID, event.MessageCreated{Message: *msg})
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID, ok := pathID(w, r, "conversationID")
		if !ok {
			return
		}
		msgID, ok := pathID(w, r, "messageID")
		if !ok {
			return
		}

		msg, err := msgSvc.Delete(r.Context(), currentUser.ID, convID, msgID)
		if err != nil {
			writeError(w, err)
			return
		}
		if msg.DeletedAt != nil {
			broadcast(r, msgSvc, hub, convID, event.MessageDeleted{
				ConversationID: convID,
				MessageID:      msg.ID,
				DeletedAt:      *msg.DeletedAt,
			})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// broadcast pushes e to every participant of the conversation, the sender's
// other connections included.
func broadcast(r *http.Request, msgSvc *service.MessageService, hub *ws.Hub, convID int64, e event.Inbound) {
	ids, err := msgSvc.ParticipantIdentities(r.Context(), convID)
	if err != nil {
		logger.From(r.Context()).Warn("broadcast: list participants", "event", e.Name(), "conversation_id", convID, "err", err)
		return
	}
	hub.SendTo(ids, e)
}
