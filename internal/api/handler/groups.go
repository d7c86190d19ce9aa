package handler

import (
	"net/http"

	"anonchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type groupRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

type roleRequest struct {
	Role models.GroupRole `json:"role" binding:"required"`
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	g, err := h.Groups.Create(c.Request.Context(), req.Name, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(g))
}

func (h *Handler) JoinGroup(c *gin.Context) {
	m, err := h.Groups.Join(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(m))
}

func (h *Handler) LeaveGroup(c *gin.Context) {
	if err := h.Groups.Leave(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"left": true}))
}

func (h *Handler) SetGroupRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.Groups.SetRole(ctx, c.Param("id"), currentUser(c), c.Param("uid"), req.Role); err != nil {
		h.respondError(c, err)
		return
	}
	members, err := h.Groups.Members(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(members))
}

func (h *Handler) GroupMessages(c *gin.Context) {
	msgs, err := h.Groups.Messages(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(msgs))
}

func (h *Handler) SendGroupMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	msg, err := h.Groups.SendMessage(c.Request.Context(), c.Param("id"), currentUser(c), req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSuccessResponse(msg))
}
