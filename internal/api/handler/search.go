package handler

import (
	"net/http"

	"anonchat/backend/internal/matchmaking"
	"anonchat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type searchStatus struct {
	Searching bool   `json:"searching"`
	Queued    bool   `json:"queued"`
	Matched   bool   `json:"matched"`
	ChatID    string `json:"chatId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
}

func (h *Handler) statusOf(c *gin.Context, userID string, sh *matchmaking.SearchHandle) searchStatus {
	st := searchStatus{Queued: h.Queue.IsQueued(c.Request.Context(), userID)}
	if sh == nil {
		return st
	}
	select {
	case <-sh.Done():
		res, _ := sh.Result()
		st.Matched = res.Matched
		st.ChatID = res.ChatID
		st.PartnerID = res.PartnerID
	default:
		st.Searching = true
	}
	return st
}

// StartSearch enqueues the caller and keeps looking for a partner in the
// background. An empty body searches for anyone.
func (h *Handler) StartSearch(c *gin.Context) {
	userID := currentUser(c)
	prefs := models.Preferences{Random: true}
	if c.Request.ContentLength != 0 {
		prefs = models.Preferences{}
		if err := c.ShouldBindJSON(&prefs); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	sh, err := h.Searches.Start(c.Request.Context(), userID, prefs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	st := h.statusOf(c, userID, sh)
	status := http.StatusAccepted
	if st.Matched {
		status = http.StatusOK
	}
	c.JSON(status, NewSuccessResponse(st))
}

func (h *Handler) SearchStatus(c *gin.Context) {
	userID := currentUser(c)
	sh, _ := h.Searches.Get(userID)
	c.JSON(http.StatusOK, NewSuccessResponse(h.statusOf(c, userID, sh)))
}

func (h *Handler) CancelSearch(c *gin.Context) {
	h.Searches.Cancel(c.Request.Context(), currentUser(c))
	c.JSON(http.StatusOK, NewSuccessResponse(searchStatus{}))
}

type notificationView struct {
	HasNewChat   bool                      `json:"hasNewChat"`
	Notification *models.MatchNotification `json:"notification,omitempty"`
}

func (h *Handler) Notifications(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c)
	view := notificationView{HasNewChat: h.Relay.HasNewChat(ctx, userID)}
	if n, ok := h.Relay.Latest(ctx, userID); ok {
		view.Notification = n
	}
	c.JSON(http.StatusOK, NewSuccessResponse(view))
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	if err := h.Relay.MarkRead(c.Request.Context(), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(notificationView{}))
}

func (h *Handler) Recommendations(c *gin.Context) {
	if h.Recommender == nil {
		h.unavailable(c, "recommendations")
		return
	}
	var q struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	candidates, err := h.Recommender.Recommend(c.Request.Context(), currentUser(c), q.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(candidates))
}
