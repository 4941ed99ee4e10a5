package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nestmatelabs/nestmate/internal/allocation"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"go.uber.org/zap"
)

const highlightHeartbeatInterval = 25 * time.Second

type roomPayload struct {
	ID         string   `json:"id"`
	RoomNumber string   `json:"roomNumber"`
	Type       string   `json:"type"`
	Floor      string   `json:"floor,omitempty"`
	HasWindow  bool     `json:"hasWindow"`
	IsOccupied bool     `json:"isOccupied"`
	Occupants  []string `json:"occupants,omitempty"`
}

type addRoomPayload struct {
	RoomNumber string `json:"roomNumber"`
	Type       string `json:"type"`
	Floor      string `json:"floor"`
	HasWindow  bool   `json:"hasWindow"`
}

type allocationPayload struct {
	ID           string          `json:"id"`
	MatchID      string          `json:"matchId"`
	AllocatorID  string          `json:"allocatorId"`
	Allocator    *profilePayload `json:"allocator,omitempty"`
	IsConfirmed  bool            `json:"isConfirmed"`
	SelectedRoom *roomPayload    `json:"selectedRoom,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type selectRoomPayload struct {
	RoomID string `json:"roomId"`
}

type highlightRequestPayload struct {
	RoomID string `json:"roomId"`
}

type highlightEventPayload struct {
	MatchID   string    `json:"matchId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	if _, ok := h.currentUserID(c); !ok {
		return
	}

	views, err := h.allocations.ListRooms(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	rooms := make([]roomPayload, 0, len(views))
	for _, view := range views {
		rooms = append(rooms, roomPayloadFrom(view.Room, view.Occupants))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *httpHandler) handleAddRoom(c *gin.Context) {
	if _, ok := h.currentUserID(c); !ok {
		return
	}

	var request addRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	room, err := h.allocations.AddRoom(c.Request.Context(), allocation.AddRoomInput{
		RoomNumber: request.RoomNumber,
		Type:       allocation.RoomType(request.Type),
		Floor:      request.Floor,
		HasWindow:  request.HasWindow,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": roomPayloadFrom(*room, nil)})
}

func (h *httpHandler) handleGetAllocation(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	matchID := c.Param("matchID")
	if err := h.requireParticipant(c, matchID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	view, err := h.allocations.Get(c.Request.Context(), matchID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := allocationPayloadFrom(*view)
	if allocator, err := h.profiles.Get(c.Request.Context(), view.Allocation.AllocatorID); err == nil {
		profileView := profilePayloadFrom(*allocator)
		payload.Allocator = &profileView
	}
	c.JSON(http.StatusOK, gin.H{"allocation": payload})
}

func (h *httpHandler) handleSelectRoom(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request selectRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	view, err := h.allocations.SelectRoom(c.Request.Context(), c.Param("matchID"), userID, request.RoomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Room confirmed.",
		"allocation": allocationPayloadFrom(*view),
	})
}

// handleBroadcastHighlight publishes an advisory highlight to the
// match's live channel. Nothing is persisted; SelectRoom remains the
// authoritative state change.
func (h *httpHandler) handleBroadcastHighlight(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	matchID := c.Param("matchID")
	if err := h.requireParticipant(c, matchID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	var request highlightRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RoomID == "" {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "roomId is required"))
		return
	}

	h.highlights.Publish(HighlightMessage{
		MatchID:   matchID,
		RoomID:    request.RoomID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleHighlightStream serves the match's highlight channel over SSE.
// Heartbeats keep intermediaries from closing an idle stream.
func (h *httpHandler) handleHighlightStream(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	matchID := c.Param("matchID")
	if err := h.requireParticipant(c, matchID, userID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	stream, cleanup := h.highlights.Subscribe(c.Request.Context(), matchID)
	defer cleanup()

	heartbeat := time.NewTicker(highlightHeartbeatInterval)
	defer heartbeat.Stop()

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, open := <-stream:
			if !open {
				return false
			}
			data, err := json.Marshal(highlightEventPayload{
				MatchID:   message.MatchID,
				RoomID:    message.RoomID,
				UserID:    message.UserID,
				Timestamp: message.Timestamp,
			})
			if err != nil {
				h.logger.Error("failed to encode highlight event", zap.Error(err))
				return true
			}
			c.SSEvent(HighlightEventRoomHighlight, string(data))
			return true
		case <-heartbeat.C:
			c.SSEvent(highlightEventHeartbeat, "{}")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// requireParticipant rejects callers that are not part of the match.
func (h *httpHandler) requireParticipant(c *gin.Context, matchID, userID string) error {
	participants, err := h.matching.Participants(c.Request.Context(), matchID)
	if err != nil {
		return err
	}
	if participants[0] != userID && participants[1] != userID {
		return apperr.New(apperr.KindForbidden, "you are not part of this match")
	}
	return nil
}

func roomPayloadFrom(room allocation.Room, occupants []string) roomPayload {
	return roomPayload{
		ID:         room.ID,
		RoomNumber: room.RoomNumber,
		Type:       string(room.Type),
		Floor:      room.Floor,
		HasWindow:  room.HasWindow,
		IsOccupied: room.IsOccupied,
		Occupants:  occupants,
	}
}

func allocationPayloadFrom(view allocation.View) allocationPayload {
	payload := allocationPayload{
		ID:          view.Allocation.ID,
		MatchID:     view.Allocation.MatchID,
		AllocatorID: view.Allocation.AllocatorID,
		IsConfirmed: view.Allocation.IsConfirmed,
		CreatedAt:   view.Allocation.CreatedAt,
		UpdatedAt:   view.Allocation.UpdatedAt,
	}
	if view.SelectedRoom != nil {
		room := roomPayloadFrom(*view.SelectedRoom, nil)
		payload.SelectedRoom = &room
	}
	return payload
}
