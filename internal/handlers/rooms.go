package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/mossy-p/meeting-signaling/internal/registry"
)

// RoomLookup is the part of the presence store the room API reads
type RoomLookup interface {
	Room(ctx context.Context, roomID string) (*redis.RoomPresence, error)
}

// RoomsAPI serves read-only room information
type RoomsAPI struct {
	registry *registry.Registry
	store    RoomLookup // nil when Redis is disabled
}

func NewRoomsAPI(reg *registry.Registry, store RoomLookup) *RoomsAPI {
	return &RoomsAPI{registry: reg, store: store}
}

// GetRoom returns the live member count of a room (public)
func (a *RoomsAPI) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	room := models.RoomMetadata{
		ID:          roomID,
		MemberCount: len(a.registry.Members(roomID)),
	}

	if a.store != nil {
		presence, err := a.store.Room(c.Request.Context(), roomID)
		switch {
		case err == nil:
			firstSeen := presence.FirstSeenAt
			room.FirstSeenAt = &firstSeen
		case errors.Is(err, redis.ErrRoomNotFound):
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}
	}

	if room.MemberCount == 0 && room.FirstSeenAt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// ListRooms returns every live room (requires authentication)
func (a *RoomsAPI) ListRooms(c *gin.Context) {
	stats := a.registry.Rooms()
	list := models.RoomList{Rooms: make([]models.RoomMetadata, 0, len(stats))}
	for _, s := range stats {
		list.Rooms = append(list.Rooms, models.RoomMetadata{ID: s.ID, MemberCount: s.Members})
	}
	c.JSON(http.StatusOK, list)
}
