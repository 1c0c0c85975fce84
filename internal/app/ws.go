package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"resonate/api/internal/store"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = 50 * time.Second
	wsReadLimit  = 4096
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscribe opens a live event feed for a room.
func (s *Service) Subscribe(ctx context.Context, roomID string) (*store.Subscription, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.store.SubscribeRoom(ctx, roomID), nil
}

// handleRoomSocket upgrades the request and streams room events. The optional
// member query parameter enrolls the connection in presence: the server
// heartbeats on the member's behalf while the socket is open and marks them
// gone when it closes.
func (s *HTTPServer) handleRoomSocket(w http.ResponseWriter, r *http.Request, roomID string) {
	memberID := r.URL.Query().Get("member")
	displayName := r.URL.Query().Get("name")

	// The subscription must outlive the handler, so it runs on its own
	// context rather than the request's.
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.service.Subscribe(ctx, roomID)
	if err != nil {
		cancel()
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		sub.Close()
		log.Printf("ws: upgrade failed for room %s: %v", roomID, err)
		return
	}

	send := make(chan any, wsSendBuffer)

	// Initial snapshot so a late joiner does not wait for the next event.
	go func() {
		snapshot, err := s.roomSnapshot(ctx, roomID)
		if err != nil {
			log.Printf("ws: snapshot for room %s: %v", roomID, err)
			return
		}
		select {
		case send <- snapshot:
		case <-ctx.Done():
		}
	}()

	if memberID != "" {
		if _, err := s.service.Heartbeat(ctx, roomID, memberID, HeartbeatInput{DisplayName: displayName}); err != nil {
			log.Printf("ws: initial heartbeat for %s in room %s: %v", memberID, roomID, err)
		}
		go s.heartbeatLoop(ctx, roomID, memberID, displayName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					cancel()
					return
				}
				select {
				case send <- ev:
				case <-ctx.Done():
					return
				default:
					// Slow consumer; drop the event rather than stall the room.
				}
			}
		}
	}()

	go s.socketWritePump(ctx, cancel, conn, send)
	go s.socketReadPump(ctx, cancel, conn, sub, roomID, memberID)
}

func (s *HTTPServer) roomSnapshot(ctx context.Context, roomID string) (map[string]any, error) {
	state, err := s.service.PlayerState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	presence, err := s.service.Presence(ctx, roomID)
	if err != nil {
		return nil, err
	}
	messages, err := s.service.Messages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	return map[string]any{
		"type":     "snapshot",
		"roomId":   roomID,
		"player":   playerPayload(state),
		"presence": presence,
		"messages": messages,
	}, nil
}

// heartbeatLoop keeps the member's presence fresh for as long as the socket
// lives.
func (s *HTTPServer) heartbeatLoop(ctx context.Context, roomID, memberID, displayName string) {
	ticker := time.NewTicker(s.service.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.service.Heartbeat(ctx, roomID, memberID, HeartbeatInput{DisplayName: displayName}); err != nil {
				log.Printf("ws: heartbeat for %s in room %s: %v", memberID, roomID, err)
			}
		}
	}
}

func (s *HTTPServer) socketWritePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, send <-chan any) {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) socketReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *store.Subscription, roomID, memberID string) {
	defer func() {
		cancel()
		sub.Close()
		conn.Close()
		if memberID != "" {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer leaveCancel()
			if err := s.service.Leave(leaveCtx, roomID, memberID); err != nil {
				log.Printf("ws: leave for %s in room %s: %v", memberID, roomID, err)
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Inbound frames are ignored; the socket is a one-way event feed. The
	// read loop exists to notice the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: room %s: %v", roomID, err)
			}
			return
		}
	}
}
