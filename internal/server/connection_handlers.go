package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/matching"
)

type createConnectionPayload struct {
	ReceiverUserID string `json:"receiverUserId"`
}

type respondPayload struct {
	Status string `json:"status"`
}

type connectionRequestPayload struct {
	ID             string          `json:"id"`
	SenderUserID   string          `json:"senderUserId"`
	ReceiverUserID string          `json:"receiverUserId"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	OtherUser      *profilePayload `json:"otherUser,omitempty"`
}

type matchPayload struct {
	ID          string          `json:"id"`
	UserAID     string          `json:"userAId"`
	UserBID     string          `json:"userBId"`
	CreatedAt   time.Time       `json:"createdAt"`
	MatchedUser *profilePayload `json:"matchedUser,omitempty"`
}

func (h *httpHandler) handleCreateConnection(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request createConnectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ReceiverUserID == "" {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "receiverUserId is required"))
		return
	}

	created, err := h.matching.Create(c.Request.Context(), userID, request.ReceiverUserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Request sent.",
		"request": requestPayloadFrom(*created, nil),
	})
}

func (h *httpHandler) handleRespond(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request respondPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	outcome, err := h.matching.Respond(c.Request.Context(), c.Param("requestID"), userID, request.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := gin.H{"status": string(outcome.Status)}
	if outcome.Match != nil {
		response["match"] = matchPayloadFrom(*outcome.Match, nil)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRematch(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.matching.Rematch(c.Request.Context(), c.Param("matchID"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleListMatches(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	matches, err := h.matching.ListMatches(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	partnerIDs := make([]string, 0, len(matches))
	for _, match := range matches {
		partnerIDs = append(partnerIDs, match.PartnerOf(userID))
	}
	partners, err := h.profiles.GetMany(c.Request.Context(), partnerIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]matchPayload, 0, len(matches))
	for _, match := range matches {
		var matchedUser *profilePayload
		if partner, found := partners[match.PartnerOf(userID)]; found {
			view := profilePayloadFrom(partner)
			matchedUser = &view
		}
		payload = append(payload, matchPayloadFrom(match, matchedUser))
	}
	c.JSON(http.StatusOK, gin.H{"matches": payload})
}

func (h *httpHandler) handleListIncoming(c *gin.Context) {
	h.listConnections(c, h.matching.ListIncoming)
}

func (h *httpHandler) handleListPendingSent(c *gin.Context) {
	h.listConnections(c, h.matching.ListPendingSent)
}

func (h *httpHandler) handleListAccepted(c *gin.Context) {
	h.listConnections(c, h.matching.ListAccepted)
}

func (h *httpHandler) handleListRejected(c *gin.Context) {
	h.listConnections(c, h.matching.ListRejected)
}

type connectionLister func(ctx context.Context, userID string) ([]matching.ConnectionRequest, error)

func (h *httpHandler) listConnections(c *gin.Context, list connectionLister) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	requests, err := list(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	otherIDs := make([]string, 0, len(requests))
	for _, request := range requests {
		otherIDs = append(otherIDs, otherPartyOf(request, userID))
	}
	others, err := h.profiles.GetMany(c.Request.Context(), otherIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]connectionRequestPayload, 0, len(requests))
	for _, request := range requests {
		var otherUser *profilePayload
		if other, found := others[otherPartyOf(request, userID)]; found {
			view := profilePayloadFrom(other)
			otherUser = &view
		}
		payload = append(payload, requestPayloadFrom(request, otherUser))
	}
	c.JSON(http.StatusOK, gin.H{"requests": payload})
}

type notificationPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	notifications, err := h.matching.UnreadNotifications(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		item := notificationPayload{
			ID:        notification.ID,
			Type:      notification.Type,
			Message:   notification.Message,
			Read:      notification.Read,
			CreatedAt: notification.CreatedAt,
		}
		if notification.MetadataJSON != "" {
			item.Metadata = json.RawMessage(notification.MetadataJSON)
		}
		payload = append(payload, item)
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}

type markReadPayload struct {
	NotificationIDs []string `json:"notificationIds"`
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.NotificationIDs == nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "notificationIds must be an array"))
		return
	}

	if err := h.matching.MarkNotificationsRead(c.Request.Context(), userID, request.NotificationIDs); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func requestPayloadFrom(request matching.ConnectionRequest, otherUser *profilePayload) connectionRequestPayload {
	return connectionRequestPayload{
		ID:             request.ID,
		SenderUserID:   request.SenderID,
		ReceiverUserID: request.ReceiverID,
		Status:         string(request.Status),
		CreatedAt:      request.CreatedAt,
		UpdatedAt:      request.UpdatedAt,
		OtherUser:      otherUser,
	}
}

func matchPayloadFrom(match matching.Match, matchedUser *profilePayload) matchPayload {
	return matchPayload{
		ID:          match.ID,
		UserAID:     match.UserAID,
		UserBID:     match.UserBID,
		CreatedAt:   match.CreatedAt,
		MatchedUser: matchedUser,
	}
}

func otherPartyOf(request matching.ConnectionRequest, userID string) string {
	if request.SenderID == userID {
		return request.ReceiverID
	}
	return request.SenderID
}
