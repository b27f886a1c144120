package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/serene/internal/chat"
	"github.com/MrWong99/serene/internal/observe"
	"github.com/MrWong99/serene/internal/policy"
	"github.com/MrWong99/serene/internal/session"
)

// participantHeader carries the signed-in user's address from the front end.
const participantHeader = "X-User-Email"

// genericError is the only failure text shown to users for server-side
// errors.
const genericError = "Something went wrong"

type chatHandler struct {
	chat     *chat.Service
	sessions *session.Store
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Reply string    `json:"reply"`
	Mode  chat.Mode `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
	Reply string `json:"reply,omitempty"`
}

// Send handles POST /chat.
func (h *chatHandler) Send(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reply, err := h.chat.Handle(c.Request.Context(), chat.Turn{
		SessionID:   req.SessionID,
		Message:     req.Message,
		Participant: c.GetHeader(participantHeader),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, chatResponse{Reply: reply.Text, Mode: reply.Mode})
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
	case errors.Is(err, chat.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "message is too long"})
	default:
		observe.Logger(c.Request.Context()).Error("api: chat turn failed",
			"session_id", req.SessionID,
			"err", err,
		)
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error: genericError,
			Reply: h.chat.ApologyReply(),
		})
	}
}

type historyResponse struct {
	SessionID     string           `json:"sessionId"`
	Messages      []policy.Message `json:"messages"`
	QuestionCount int              `json:"questionCount"`
	Mode          string           `json:"mode"`
}

// History handles GET /chat/history. Only the participant that opened the
// session may read it; anyone else gets the same 404 as for an unknown id.
func (h *chatHandler) History(c *gin.Context) {
	id := c.Query("sessionId")
	if id == "" {
		id = h.chat.DefaultSessionID()
	}

	caller := c.GetHeader(participantHeader)
	snap, ok := h.sessions.Snapshot(id)
	if !ok || caller == "" || subtle.ConstantTimeCompare([]byte(caller), []byte(snap.Owner)) != 1 {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, historyResponse{
		SessionID:     snap.ID,
		Messages:      snap.Messages,
		QuestionCount: snap.State.Questions,
		Mode:          snap.State.Kind.String(),
	})
}
