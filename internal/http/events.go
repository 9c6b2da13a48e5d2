package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
)

// Events streams hub events to the caller as server-sent events. Rooms come
// from the rooms query parameter; without it the caller joins every room it
// may read.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	rooms, err := h.eventRooms(r, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Warn("sse flush unsupported", zap.Error(err), zap.String("request_id", requestID(r)))
		return
	}

	client := h.hub.Subscribe(uuid.NewString(), p.UserID, rooms)
	defer h.hub.Unsubscribe(client.ID)
	h.metrics.SSEClients(h.hub.ClientCount())
	defer func() { h.metrics.SSEClients(h.hub.ClientCount()) }()

	fmt.Fprintf(w, "event: ready\ndata: {\"rooms\":%s}\n\n", mustJSON(client.Rooms()))
	_ = rc.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", mustJSON(ev)); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) eventRooms(r *http.Request, p domain.Principal) ([]string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("rooms"))
	if raw == "" {
		return h.defaultRooms(r, p)
	}
	var rooms []string
	for _, room := range strings.Split(raw, ",") {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if !canJoin(p, room) {
			return nil, domain.Errorf(domain.KindForbidden, "not allowed to join room %s", room).WithField("rooms")
		}
		rooms = append(rooms, room)
	}
	if len(rooms) == 0 {
		return nil, badRequest("rooms must name at least one room").WithField("rooms")
	}
	return rooms, nil
}

func (h *Handler) defaultRooms(r *http.Request, p domain.Principal) ([]string, error) {
	rooms := []string{events.RoomProducts}
	if !p.IsAdmin() {
		for _, id := range p.Locations {
			rooms = append(rooms, events.LocationRoom(id))
		}
		return rooms, nil
	}
	rooms = append(rooms, events.RoomSales)
	locations, err := h.svc.ListLocations(r.Context(), p)
	if err != nil {
		return nil, err
	}
	for _, loc := range locations {
		rooms = append(rooms, events.LocationRoom(loc.ID))
	}
	return rooms, nil
}

func canJoin(p domain.Principal, room string) bool {
	switch {
	case room == events.RoomProducts:
		return true
	case room == events.RoomSales:
		return p.IsAdmin()
	case strings.HasPrefix(room, events.LocationRoom("")):
		return p.HasAccessTo(strings.TrimPrefix(room, events.LocationRoom("")))
	}
	return false
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
