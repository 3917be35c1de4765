package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sphere-health-server/internal/records"
	"sphere-health-server/internal/utils"
)

// MessageHandler handles secure messaging.
type MessageHandler struct {
	Records *records.Service
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc *records.Service) *MessageHandler {
	return &MessageHandler{Records: svc}
}

// SendMessageRequest represents the request body for sending a message.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	Subject    string `json:"subject" binding:"max=200"`
	Content    string `json:"content" binding:"required"`
	ParentID   string `json:"parent_id" binding:"omitempty,uuid"`
}

// SendMessage handles sending a message.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	view, err := h.Records.SendMessage(c.Request.Context(), sess, records.NewMessage{
		ReceiverID: req.ReceiverID,
		Subject:    req.Subject,
		Content:    req.Content,
		ParentID:   req.ParentID,
	})
	if err != nil {
		respondError(c, err, "send message")
		return
	}
	utils.Created(c, "Message sent successfully", view)
}

// GetMessagesForUser lists the caller's messages, or the conversation with
// the user named by ?withUser=, which also marks that user's messages read.
func (h *MessageHandler) GetMessagesForUser(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	partnerID := c.Query("withUser")
	if partnerID != "" {
		if _, err := uuid.Parse(partnerID); err != nil {
			utils.BadRequest(c, "Invalid user ID format")
			return
		}
	}

	list, err := h.Records.ListMessages(c.Request.Context(), sess, partnerID)
	if err != nil {
		respondError(c, err, "fetch messages")
		return
	}
	utils.Success(c, "Messages fetched successfully", list)
}

// NewMessagesRequest represents the query params for getting new messages
type NewMessagesRequest struct {
	Since string `form:"since" binding:"required"`
}

// GetNewMessages returns messages created after ?since=, an RFC3339 time.
func (h *MessageHandler) GetNewMessages(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req NewMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.BadRequest(c, "Validation failed: "+utils.FormatValidationError(err))
		return
	}
	since, err := time.Parse(time.RFC3339, req.Since)
	if err != nil {
		utils.BadRequest(c, "Invalid timestamp format. Use RFC3339 format (e.g., 2006-01-02T15:04:05Z07:00)")
		return
	}

	list, err := h.Records.MessagesSince(c.Request.Context(), sess, since)
	if err != nil {
		respondError(c, err, "fetch messages")
		return
	}
	utils.Success(c, "New messages fetched successfully", list)
}

// GetConversations lists one entry per conversation partner.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	list, err := h.Records.Conversations(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err, "fetch conversations")
		return
	}
	utils.Success(c, "Conversations fetched successfully", list)
}

// MarkMessageAsRead marks a received message read.
func (h *MessageHandler) MarkMessageAsRead(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "message")
	if !ok {
		return
	}

	view, err := h.Records.MarkRead(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err, "update message")
		return
	}
	utils.Success(c, "Message marked as read", view)
}
