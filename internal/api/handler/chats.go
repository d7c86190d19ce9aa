package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type reportRequest struct {
	Reason   string `json:"reason" binding:"max=1024"`
	Severity string `json:"severity" binding:"required,oneof=Low Medium Critical"`
}

func (h *Handler) ListChats(c *gin.Context) {
	sessions, err := h.Chats.ListSessions(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(sessions))
}

// LatestChat returns the newest active direct chat of the caller.
func (h *Handler) LatestChat(c *gin.Context) {
	s, err := h.Chats.LatestActiveSession(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(s))
}

func (h *Handler) ChatMessages(c *gin.Context) {
	msgs, err := h.Chats.GetSessionMessages(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(msgs))
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	msg, err := h.Chats.SendMessage(c.Request.Context(), c.Param("id"), currentUser(c), req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(msg))
}

func (h *Handler) MarkChatRead(c *gin.Context) {
	n, err := h.Chats.MarkRead(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"marked": n}))
}

func (h *Handler) EndChat(c *gin.Context) {
	s, err := h.Chats.EndChat(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(s))
}

func (h *Handler) ReportChat(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	r, err := h.Complaints.Report(c.Request.Context(), c.Param("id"), currentUser(c), req.Reason, req.Severity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(r))
}
