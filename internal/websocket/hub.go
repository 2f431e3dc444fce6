package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/presence"
	"github.com/observer/parley/internal/pubsub"
)

// LastOnlineStore persists the moment a user went offline
type LastOnlineStore interface {
	TouchLastOnline(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// HubConfig wires a Hub to its collaborators. Only Logger is required.
type HubConfig struct {
	Registry *presence.Registry
	PubSub   pubsub.PubSub
	Users    LastOnlineStore

	// InstanceID tags what this hub publishes so it can skip its own echoes
	InstanceID string

	// Replicate forwards socket relays to hubs on other instances
	Replicate bool

	Logger *slog.Logger
}

// Hub relays events between live sockets.
//
// Rooms are ephemeral sets of sockets keyed by chat id. Each client keeps the
// set of rooms it joined and the hub keeps the reverse index; both change
// under mu. Fan-out also runs under mu, so the sockets of a room see events
// in the order the hub received them. Delivery is at most once with no
// replay: a socket that joins late fetches state over REST.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{} // sockets that sent user_add
	rooms   map[string]map[*Client]struct{}

	// relayed remembers message_received relays per room+message id, so a
	// message sent over REST and again through message_send goes out once
	relayed map[string]time.Time

	registry   *presence.Registry
	ps         pubsub.PubSub
	store      LastOnlineStore
	instanceID string
	replicate  bool

	// subMu serializes topic subscription changes
	subMu    sync.Mutex
	roomSubs map[string]pubsub.Subscription
	userSubs map[string]pubsub.Subscription

	logger *slog.Logger
	now    func() time.Time
}

// NewHub creates a new Hub
func NewHub(cfg HubConfig) *Hub {
	registry := cfg.Registry
	if registry == nil {
		registry = presence.NewRegistry()
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		relayed:    make(map[string]time.Time),
		registry:   registry,
		ps:         cfg.PubSub,
		store:      cfg.Users,
		instanceID: instanceID,
		replicate:  cfg.Replicate,
		roomSubs:   make(map[string]pubsub.Subscription),
		userSubs:   make(map[string]pubsub.Subscription),
		logger:     cfg.Logger.With("component", "hub"),
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled, then closes every socket
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.shutdown()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*Client]struct{})
	h.users = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.relayed = make(map[string]time.Time)
	h.mu.Unlock()

	h.subMu.Lock()
	defer h.subMu.Unlock()
	for id, sub := range h.roomSubs {
		_ = sub.Unsubscribe()
		delete(h.roomSubs, id)
	}
	for id, sub := range h.userSubs {
		_ = sub.Unsubscribe()
		delete(h.userSubs, id)
	}
	h.logger.Info("hub stopped")
}

// Register adds a freshly upgraded socket
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("client connected", "socket_id", c.id)
}

// Unregister runs the disconnect path: leave every room, drop the presence
// entry and tell everybody. When the user has no other socket left their
// last online time is stored and relayed to the rooms this socket was in.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
		h.leaveLocked(c, roomID)
	}

	h.registry.Remove(c.id)

	userID := c.UserID()
	offline := false
	if userID != "" {
		sockets := h.users[userID]
		delete(sockets, c)
		if len(sockets) == 0 {
			delete(h.users, userID)
			offline = true
		} else if !h.registry.IsOnline(userID) {
			// Another tab of the same user takes over the presence entry
			for other := range sockets {
				h.registry.Add(userID, other.id)
				break
			}
		}
	}
	c.close()
	h.mu.Unlock()

	for _, roomID := range rooms {
		h.syncRoomSub(roomID)
	}
	if userID != "" {
		h.syncUserSub(userID)
	}
	if offline {
		h.markOffline(userID, rooms)
	}
	h.broadcastOnline()

	h.logger.Debug("client disconnected", "socket_id", c.id, "user_id", userID, "offline", offline)
}

func (h *Hub) markOffline(userID string, rooms []string) {
	at := h.now().UTC()

	if h.store != nil {
		if id, err := uuid.Parse(userID); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.store.TouchLastOnline(ctx, id, at); err != nil {
				h.logger.Error("failed to store last online", "error", err, "user_id", userID)
			}
			cancel()
		}
	}

	payload := LastOnlinePayload{UserID: userID, LastOnline: at}
	for _, roomID := range rooms {
		h.Relay(EventLastOnlineUpdate, roomID, nil, payload)
	}
}

// Join adds c to a room. Joining twice is a no-op.
func (h *Hub) Join(c *Client, roomID string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[roomID] = members
	}
	members[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
	h.mu.Unlock()

	h.syncRoomSub(roomID)
}

// Leave removes c from a room
func (h *Hub) Leave(c *Client, roomID string) {
	h.mu.Lock()
	h.leaveLocked(c, roomID)
	h.mu.Unlock()

	h.syncRoomSub(roomID)
}

func (h *Hub) leaveLocked(c *Client, roomID string) {
	delete(c.rooms, roomID)
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Relay delivers event to every socket in the room except sender, which
// may be nil. Failures never reach the sender.
func (h *Hub) Relay(event Event, roomID string, sender *Client, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("failed to create relay message", "error", err, "event", event)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	exclude := ""
	if sender != nil {
		exclude = sender.id
	}
	h.deliverRoom(roomID, data, exclude)

	if h.replicate && h.ps != nil {
		h.publish(pubsub.Topics.Room(roomID), event, msg.Payload, exclude)
	}
}

// Broadcast delivers event to every connected socket
func (h *Hub) Broadcast(event Event, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("failed to create broadcast message", "error", err, "event", event)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

// broadcastOnline sends the presence list to everybody. The list is read
// under the same lock that orders delivery, so the last broadcast a socket
// sees is the current list.
func (h *Hub) broadcastOnline() {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, err := NewMessage(EventUsersOnline, h.registry.ListOnline())
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for c := range h.clients {
		c.enqueue(data)
	}
}

func (h *Hub) deliverRoom(roomID string, data []byte, exclude string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		if c.id != exclude {
			c.enqueue(data)
		}
	}
}

func (h *Hub) deliverUser(userID string, data []byte, exclude string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		if c.id != exclude {
			c.enqueue(data)
		}
	}
}

// HandleMessage dispatches one client frame
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg *Message) {
	switch msg.Type {
	case EventUserAdd:
		h.handleUserAdd(c, msg.Payload)
	case EventRoomJoin:
		h.handleRoomJoin(c, msg.Payload)
	case EventRoomLeave:
		h.handleRoomLeave(c, msg.Payload)
	case EventTyping:
		h.handleTyping(c, msg.Payload)
	case EventMessageSend:
		h.handleMessageSend(c, msg.Payload)
	case EventMessageEdit, EventMessageHide, EventMessageUnhide, EventMessageDelete, EventMarkAllRead:
		h.handleMessageEvent(c, msg.Type, msg.Payload)
	case EventMarkOneRead:
		h.handleMarkOneRead(c, msg.Payload)
	default:
		c.sendError("unknown_event", "Unknown event type: "+string(msg.Type))
	}
}

func (h *Hub) handleUserAdd(c *Client, payload json.RawMessage) {
	var u UserRef
	if err := json.Unmarshal(payload, &u); err != nil || u.Key() == "" {
		c.sendError("invalid_payload", "user_add needs a user with an id")
		return
	}
	userID := u.Key()

	if authID := c.AuthUserID(); authID != "" && authID != userID {
		c.sendError("forbidden", "Cannot register as another user")
		return
	}
	if current := c.UserID(); current != "" && current != userID {
		c.sendError("already_registered", "Socket already registered for another user")
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	c.setUser(userID, u.Username)
	sockets := h.users[userID]
	if sockets == nil {
		sockets = make(map[*Client]struct{})
		h.users[userID] = sockets
	}
	sockets[c] = struct{}{}
	h.registry.Add(userID, c.id)
	h.mu.Unlock()

	h.syncUserSub(userID)
	h.broadcastOnline()
	h.Broadcast(EventConnected, ConnectedPayload{UserID: userID, SocketID: c.id, Username: u.Username})

	h.logger.Info("user online", "user_id", userID, "socket_id", c.id)
}

func (h *Hub) handleRoomJoin(c *Client, payload json.RawMessage) {
	roomID, err := parseChatID(payload)
	if err != nil {
		c.sendError("invalid_payload", "room_join needs a chat id")
		return
	}
	h.Join(c, roomID)
}

func (h *Hub) handleRoomLeave(c *Client, payload json.RawMessage) {
	roomID, err := parseChatID(payload)
	if err != nil {
		c.sendError("invalid_payload", "room_leave needs a chat id")
		return
	}
	h.Leave(c, roomID)
}

func (h *Hub) handleTyping(c *Client, payload json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ChatID == "" {
		c.sendError("invalid_payload", "typing needs a chat id")
		return
	}
	username := p.Username
	if username == "" {
		username = c.Username()
	}
	h.Relay(EventTyping, p.ChatID, c, username)
}

func (h *Hub) handleMessageSend(c *Client, payload json.RawMessage) {
	var p MessageSendPayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Message) == 0 {
		c.sendError("invalid_payload", "message_send needs a message")
		return
	}
	roomID := p.ChatID
	if roomID == "" {
		var err error
		if roomID, err = chatOfMessage(p.Message); err != nil {
			c.sendError("invalid_payload", "message_send needs a chat id")
			return
		}
	}
	if id := messageIDOf(p.Message); id != "" && !h.claimRelay(roomID, id) {
		h.logger.Debug("duplicate message_send dropped", "chat_id", roomID, "message_id", id)
		return
	}
	h.Relay(EventMessageReceived, roomID, c, p.Message)
}

// relayMemory is how long a relayed message id blocks a second relay
const relayMemory = time.Minute

// claimRelay reports whether messageID has not been relayed to roomID yet
// and records it. Expired entries are pruned on the way.
func (h *Hub) claimRelay(roomID, messageID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for key, at := range h.relayed {
		if now.Sub(at) > relayMemory {
			delete(h.relayed, key)
		}
	}
	key := roomID + "/" + messageID
	if _, seen := h.relayed[key]; seen {
		return false
	}
	h.relayed[key] = now
	return true
}

func (h *Hub) handleMessageEvent(c *Client, event Event, payload json.RawMessage) {
	roomID, err := chatOfMessage(payload)
	if err != nil {
		c.sendError("invalid_payload", string(event)+" needs a message with a chat")
		return
	}
	h.Relay(relayed[event], roomID, c, payload)
}

func (h *Hub) handleMarkOneRead(c *Client, payload json.RawMessage) {
	var p MarkOneReadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ChatID == "" || p.MessageID == "" {
		c.sendError("invalid_payload", "mark_one_message_as_read needs chatId and messageId")
		return
	}
	h.Relay(EventMarkOneRead, p.ChatID, c, MessageReadPayload{MessageID: p.MessageID})
}

// =============================================================================
// Cross-instance fan-out
// =============================================================================

func (h *Hub) publish(topic string, event Event, payload json.RawMessage, exclude string) {
	msg := &pubsub.Message{
		Topic:   topic,
		Type:    string(event),
		Payload: payload,
		Origin:  h.instanceID,
		Exclude: exclude,
	}
	if err := h.ps.Publish(context.Background(), topic, msg); err != nil {
		h.logger.Warn("failed to replicate event", "error", err, "topic", topic, "event", event)
	}
}

// frame turns a pubsub message back into a socket frame
func (h *Hub) frame(m *pubsub.Message) ([]byte, bool) {
	if m.Origin != "" && m.Origin == h.instanceID {
		// Delivered locally when it was relayed
		return nil, false
	}
	data, err := json.Marshal(&Message{
		Type:      Event(m.Type),
		Payload:   m.Payload,
		Timestamp: h.now(),
	})
	if err != nil {
		h.logger.Error("failed to frame pubsub message", "error", err, "topic", m.Topic)
		return nil, false
	}
	return data, true
}

func (h *Hub) syncRoomSub(roomID string) {
	wanted := func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.rooms[roomID]) > 0
	}
	h.syncSub(h.roomSubs, roomID, pubsub.Topics.Room(roomID), wanted, func(ctx context.Context, m *pubsub.Message) {
		data, ok := h.frame(m)
		if !ok {
			return
		}
		if Event(m.Type) == EventMessageReceived {
			if id := messageIDOf(m.Payload); id != "" && !h.claimRelay(roomID, id) {
				return
			}
		}
		h.deliverRoom(roomID, data, m.Exclude)
	})
}

func (h *Hub) syncUserSub(userID string) {
	wanted := func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.users[userID]) > 0
	}
	h.syncSub(h.userSubs, userID, pubsub.Topics.User(userID), wanted, func(ctx context.Context, m *pubsub.Message) {
		if data, ok := h.frame(m); ok {
			h.deliverUser(userID, data, m.Exclude)
		}
	})
}

// syncSub makes the subscription for key match the current membership.
// Membership is read under subMu, so the last call always wins.
func (h *Hub) syncSub(subs map[string]pubsub.Subscription, key, topic string, wanted func() bool, handler pubsub.Handler) {
	if h.ps == nil {
		return
	}

	h.subMu.Lock()
	defer h.subMu.Unlock()

	want := wanted()
	sub, have := subs[key]
	switch {
	case want && !have:
		s, err := h.ps.Subscribe(context.Background(), topic, handler)
		if err != nil {
			h.logger.Warn("failed to subscribe", "error", err, "topic", topic)
			return
		}
		subs[key] = s
	case !want && have:
		_ = sub.Unsubscribe()
		delete(subs, key)
	}
}

// =============================================================================
// Introspection
// =============================================================================

// Online returns the current presence list
func (h *Hub) Online() []presence.Entry {
	return h.registry.ListOnline()
}

// ClientCount returns the number of live sockets
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RoomSize returns the number of sockets in a room
func (h *Hub) RoomSize(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
