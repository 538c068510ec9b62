package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/questline/session-server-go/internal/redis"
)

// envelope is the unit published on the session's redis channel. Origin
// names the connection that caused the event so presence frames can skip
// their own sender on whichever node holds it.
type envelope struct {
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type roomSet struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// Hub owns fan-out and nothing else: it knows connections, not game rules.
// With a redis client, broadcasts travel through pub/sub so every node
// holding connections for the session delivers them; with a nil client the
// hub fans out locally (single node).
type Hub struct {
	redis *redisclient.Client

	mu    sync.RWMutex
	rooms map[string]*roomSet

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(redisClient *redisclient.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		redis:  redisClient,
		rooms:  make(map[string]*roomSet),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.InviteCode]
	if !ok {
		subCtx, subCancel := context.WithCancel(h.ctx)
		room = &roomSet{clients: make(map[*Client]bool), cancel: subCancel}
		h.rooms[client.InviteCode] = room
		if h.redis != nil {
			go h.subscribeRoom(subCtx, client.InviteCode)
		}
	}
	room.clients[client] = true
	clientCount := len(room.clients)
	h.mu.Unlock()

	log.Info().
		Str("inviteCode", client.InviteCode).
		Str("playerId", client.PlayerID).
		Int("clientCount", clientCount).
		Msg("gateway client connected")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.InviteCode]
	if !ok || !room.clients[client] {
		return
	}

	delete(room.clients, client)
	client.shutdown()

	if len(room.clients) == 0 {
		room.cancel()
		delete(h.rooms, client.InviteCode)
	}

	log.Info().
		Str("inviteCode", client.InviteCode).
		Str("playerId", client.PlayerID).
		Int("clientCount", len(room.clients)).
		Msg("gateway client disconnected")
}

// Broadcast delivers a committed event to every open connection of the
// session. Best effort: it never blocks the caller and never fails the
// command that produced the event.
func (h *Hub) Broadcast(ctx context.Context, inviteCode string, message any) {
	h.BroadcastExcept(ctx, inviteCode, "", message)
}

// BroadcastExcept is Broadcast minus the originating connection.
func (h *Hub) BroadcastExcept(ctx context.Context, inviteCode, originID string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("inviteCode", inviteCode).Msg("failed to marshal broadcast")
		return
	}
	env := envelope{Origin: originID, Payload: payload}

	if h.redis == nil {
		h.fanOut(inviteCode, env)
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("inviteCode", inviteCode).Msg("failed to marshal broadcast envelope")
		return
	}

	go func() {
		channel := redisclient.GameChannel(inviteCode)
		if err := h.redis.Publish(h.ctx, channel, data).Err(); err != nil {
			log.Error().Err(err).Str("inviteCode", inviteCode).Msg("redis publish failed, falling back to local fan-out")
			h.fanOut(inviteCode, env)
		}
	}()
}

func (h *Hub) subscribeRoom(ctx context.Context, inviteCode string) {
	channel := redisclient.GameChannel(inviteCode)
	pubsub := h.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("inviteCode", inviteCode).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal broadcast envelope")
				continue
			}

			h.fanOut(inviteCode, env)
		}
	}
}

// fanOut pushes the payload to each local connection of the session. Each
// send is isolated: a slow or broken connection is pruned, never aborting
// delivery to the rest.
func (h *Hub) fanOut(inviteCode string, env envelope) {
	h.mu.RLock()
	room, ok := h.rooms[inviteCode]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(room.clients))
	for client := range room.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if env.Origin != "" && client.ID == env.Origin {
			continue
		}
		switch err := client.enqueue(env.Payload); err {
		case nil, ErrClientClosed:
			// A client that disconnected after the snapshot is skipped;
			// the rest of the room still gets the event.
		case ErrSendBufferFull:
			log.Warn().
				Str("inviteCode", inviteCode).
				Str("playerId", client.PlayerID).
				Msg("client send buffer full, pruning connection")
			go client.Close()
		}
	}
}

func (h *Hub) ClientCount(inviteCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if room, ok := h.rooms[inviteCode]; ok {
		return len(room.clients)
	}
	return 0
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, room := range h.rooms {
		total += len(room.clients)
	}
	return total
}

func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		room.cancel()
		for client := range room.clients {
			client.shutdown()
		}
	}
	h.rooms = make(map[string]*roomSet)
}
