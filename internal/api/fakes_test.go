package api

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/linkpreview"
	"github.com/observer/parley/internal/storage"
	"github.com/observer/parley/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// store is an in-memory stand-in for the three repositories
type store struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*domain.User
	chats    map[uuid.UUID]*domain.Chat
	members  map[uuid.UUID]map[uuid.UUID]*membership
	messages map[uuid.UUID]*domain.Message
	lastMsg  map[uuid.UUID]*uuid.UUID
}

type membership struct {
	hidden    bool
	deletedAt *time.Time
}

func newStore() *store {
	return &store{
		users:    make(map[uuid.UUID]*domain.User),
		chats:    make(map[uuid.UUID]*domain.Chat),
		members:  make(map[uuid.UUID]map[uuid.UUID]*membership),
		messages: make(map[uuid.UUID]*domain.Message),
		lastMsg:  make(map[uuid.UUID]*uuid.UUID),
	}
}

func (s *store) addUser(name string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &domain.User{ID: uuid.New(), Username: name, Email: name + "@example.com", CreatedAt: time.Now()}
	s.users[u.ID] = u
	return u
}

// users

type fakeUsers struct{ *store }

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) Search(_ context.Context, query string, exclude uuid.UUID, limit int) ([]domain.PublicUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.PublicUser{}
	for _, u := range f.users {
		if u.ID == exclude {
			continue
		}
		if strings.Contains(u.Username, strings.ToLower(query)) || strings.Contains(u.Email, strings.ToLower(query)) {
			out = append(out, u.ToPublic())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeUsers) UpdateAvatar(_ context.Context, userID uuid.UUID, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

// chats

type fakeChats struct{ *store }

func (f fakeChats) Create(_ context.Context, chat *domain.Chat, memberIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *chat
	f.chats[chat.ID] = &cp
	f.members[chat.ID] = make(map[uuid.UUID]*membership)
	for _, id := range memberIDs {
		f.members[chat.ID][id] = &membership{}
	}
	return nil
}

func (f fakeChats) GetByID(_ context.Context, id, viewer uuid.UUID) (*domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatFor(id, viewer)
}

func (f fakeChats) chatFor(id, viewer uuid.UUID) (*domain.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	cp := *c
	cp.Participants = []domain.PublicUser{}
	for uid := range f.members[id] {
		cp.Participants = append(cp.Participants, f.users[uid].ToPublic())
	}
	sort.Slice(cp.Participants, func(i, j int) bool { return cp.Participants[i].Username < cp.Participants[j].Username })
	var last *domain.Message
	if lastID := f.lastMsg[id]; lastID != nil {
		m := *f.messages[*lastID]
		last = &m
	}
	var watermark *time.Time
	if m, ok := f.members[id][viewer]; ok {
		watermark = m.deletedAt
	}
	preview, err := domain.ChatPreview(last, viewer, watermark, func() ([]domain.Message, error) {
		return f.visible(id, viewer), nil
	})
	if err != nil {
		return nil, err
	}
	cp.LastMessage = preview
	return &cp, nil
}

// visible returns the chat history after viewer's watermark
func (f fakeChats) visible(chatID, viewer uuid.UUID) []domain.Message {
	var watermark *time.Time
	if m, ok := f.members[chatID][viewer]; ok {
		watermark = m.deletedAt
	}
	var out []domain.Message
	for _, m := range f.messages {
		if m.ChatID != chatID {
			continue
		}
		if watermark != nil && !m.CreatedAt.After(*watermark) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f fakeChats) ListForUser(_ context.Context, userID uuid.UUID) ([]domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Chat{}
	for id, members := range f.members {
		m, ok := members[userID]
		if !ok || m.hidden {
			continue
		}
		c, _ := f.chatFor(id, userID)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f fakeChats) FindPrivate(_ context.Context, a, b uuid.UUID) (*domain.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.chats {
		if c.IsGroup {
			continue
		}
		_, okA := f.members[id][a]
		_, okB := f.members[id][b]
		if okA && okB {
			return f.chatFor(id, a)
		}
	}
	return nil, domain.ErrChatNotFound
}

func (f fakeChats) IsParticipant(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[chatID][userID]
	return ok, nil
}

func (f fakeChats) Participants(_ context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	ids := make([]uuid.UUID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f fakeChats) member(chatID, userID uuid.UUID) (*membership, error) {
	m, ok := f.members[chatID][userID]
	if !ok {
		return nil, domain.ErrNotParticipant
	}
	return m, nil
}

func (f fakeChats) Hide(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.member(chatID, userID)
	if err != nil {
		return err
	}
	m.hidden = true
	return nil
}

func (f fakeChats) Delete(_ context.Context, chatID, userID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.member(chatID, userID)
	if err != nil {
		return err
	}
	m.hidden = true
	m.deletedAt = &at
	return nil
}

func (f fakeChats) Show(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.member(chatID, userID)
	if err != nil {
		return err
	}
	m.hidden = false
	return nil
}

func (f fakeChats) Reveal(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[chatID] {
		m.hidden = false
	}
	return nil
}

func (f fakeChats) SetLastMessage(_ context.Context, chatID, messageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return domain.ErrChatNotFound
	}
	f.lastMsg[chatID] = &messageID
	c.UpdatedAt = time.Now()
	return nil
}

func (f fakeChats) RecomputeLastMessage(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[chatID]; !ok {
		return domain.ErrChatNotFound
	}
	var all []domain.Message
	for _, m := range f.messages {
		if m.ChatID == chatID {
			all = append(all, *m)
		}
	}
	if last := domain.LatestVisible(all, nil); last != nil {
		f.lastMsg[chatID] = &last.ID
	} else {
		f.lastMsg[chatID] = nil
	}
	return nil
}

// messages

type fakeMessages struct{ *store }

func (f fakeMessages) Create(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	cp.HiddenBy = slices.Clone(msg.HiddenBy)
	f.messages[msg.ID] = &cp
	return nil
}

func (f fakeMessages) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	cp.HiddenBy = append([]uuid.UUID{}, m.HiddenBy...)
	sender := f.users[m.SenderID].ToPublic()
	cp.Sender = &sender
	return &cp, nil
}

func (f fakeMessages) ListForViewer(_ context.Context, chatID, viewer uuid.UUID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := fakeChats(f).visible(chatID, viewer)
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

func (f fakeMessages) UpdateContent(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.messages[msg.ID]
	if m.IsDeleted {
		return domain.ErrMessageDeleted
	}
	m.Content, m.IsEdited, m.UpdatedAt = msg.Content, msg.IsEdited, msg.UpdatedAt
	return nil
}

func (f fakeMessages) MarkDeleted(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.messages[msg.ID]
	if m.IsDeleted {
		return domain.ErrMessageDeleted
	}
	m.IsDeleted, m.Content, m.UpdatedAt = true, domain.DeletedPlaceholder, msg.UpdatedAt
	return nil
}

func (f fakeMessages) Hide(_ context.Context, messageID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[messageID].Hide(userID), nil
}

func (f fakeMessages) Unhide(_ context.Context, messageID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[messageID].Unhide(userID), nil
}

func (f fakeMessages) MarkRead(_ context.Context, messageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.IsRead = true
	return nil
}

func (f fakeMessages) MarkAllRead(_ context.Context, chatID, readerID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.messages {
		if m.ChatID == chatID && m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

// broadcaster

type broadcast struct {
	Event   websocket.Event
	Room    uuid.UUID
	User    uuid.UUID
	Payload any
	Exclude string
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *fakeBroadcaster) record(e broadcast) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, e)
	return nil
}

func (b *fakeBroadcaster) events() []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

func (b *fakeBroadcaster) ofType(event websocket.Event) []broadcast {
	var out []broadcast
	for _, e := range b.events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) BroadcastMessage(_ context.Context, event websocket.Event, msg *domain.Message, exclude string) error {
	return b.record(broadcast{Event: event, Room: msg.ChatID, Payload: *msg, Exclude: exclude})
}

func (b *fakeBroadcaster) BroadcastChatUpdateToUser(_ context.Context, userID uuid.UUID, chat *domain.Chat, exclude string) error {
	return b.record(broadcast{Event: websocket.EventChatLastMessageUpdate, User: userID, Payload: *chat, Exclude: exclude})
}

func (b *fakeBroadcaster) BroadcastReadOne(_ context.Context, chatID, messageID uuid.UUID, exclude string) error {
	return b.record(broadcast{Event: websocket.EventMarkOneRead, Room: chatID, Payload: messageID, Exclude: exclude})
}

func (b *fakeBroadcaster) BroadcastReadAll(_ context.Context, chatID, readerID uuid.UUID, exclude string) error {
	return b.record(broadcast{Event: websocket.EventMarkAllRead, Room: chatID, Payload: readerID, Exclude: exclude})
}

// accounts

type fakeAccounts struct {
	signupErr error
	signinErr error
}

func (f *fakeAccounts) Signup(_ context.Context, in auth.SignupInput) (*auth.Session, error) {
	if f.signupErr != nil {
		return nil, f.signupErr
	}
	return &auth.Session{
		User:  domain.User{ID: uuid.New(), Username: in.Username, Email: in.Email},
		Token: "signed-token",
	}, nil
}

func (f *fakeAccounts) Signin(_ context.Context, in auth.SigninInput) (*auth.Session, error) {
	if f.signinErr != nil {
		return nil, f.signinErr
	}
	return &auth.Session{
		User:  domain.User{ID: uuid.New(), Username: "alice", Email: in.Email},
		Token: "signed-token",
	}, nil
}

// avatars

type fakeAvatars struct {
	deleted []string
}

func (f *fakeAvatars) PresignAvatarUpload(_ context.Context, userID uuid.UUID, contentType string) (*storage.AvatarUpload, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, storage.ErrUnsupportedType
	}
	key := "avatars/" + userID.String() + "/new"
	return &storage.AvatarUpload{
		UploadURL: "https://upload.example.com/" + key + "?sig=1",
		AvatarURL: "https://cdn.example.com/" + key,
		Key:       key,
	}, nil
}

func (f *fakeAvatars) KeyFromURL(url string) (string, bool) {
	return strings.CutPrefix(url, "https://cdn.example.com/")
}

func (f *fakeAvatars) DeleteObject(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

// previews

type fakePreviews struct {
	err error
}

func (f fakePreviews) Fetch(_ context.Context, rawURL string) (*linkpreview.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &linkpreview.Preview{URL: rawURL, Title: "Example"}, nil
}
