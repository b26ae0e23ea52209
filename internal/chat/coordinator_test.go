package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Patsimim/GlobalChat/internal/api"
	"github.com/Patsimim/GlobalChat/internal/models"
	"github.com/Patsimim/GlobalChat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu     sync.Mutex
	emits  []emitted
	events chan transport.Envelope
	status chan transport.Status
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan transport.Envelope, 64),
		status: make(chan transport.Status, 8),
	}
}

func (f *fakeTransport) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{Event: event, Payload: payload})
}

func (f *fakeTransport) Events(events ...string) (<-chan transport.Envelope, func()) {
	return f.events, func() {}
}

func (f *fakeTransport) Status() (<-chan transport.Status, func()) {
	return f.status, func() {}
}

func (f *fakeTransport) IsConnected() bool { return true }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) emitted(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) resetEmits() {
	f.mu.Lock()
	f.emits = nil
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) push(event string, payload any) {
	data, _ := json.Marshal(payload)
	f.events <- transport.Envelope{Event: event, Data: data}
}

func (f *fakeTransport) pushMessage(msg models.Message) {
	event := EventWorldMessage
	switch msg.ChatType {
	case models.ChatGroup:
		event = EventGroupMessage
	case models.ChatPrivate:
		event = EventPrivateMessage
	}
	f.push(event, messageEvent{Message: msg})
}

type fakeAPI struct {
	mu        sync.Mutex
	pages     map[string][]models.Message
	groups    []models.Room
	chats     []models.Room
	online    []models.User
	sendErr   error
	loadCalls []models.Scope
	sendCalls []string
	loadGate  chan struct{}
	sendGate  chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: make(map[string][]models.Message)}
}

func (f *fakeAPI) LoadMessages(ctx context.Context, scope models.Scope, limit, skip int) ([]models.Message, error) {
	f.mu.Lock()
	f.loadCalls = append(f.loadCalls, scope)
	gate := f.loadGate
	f.loadGate = nil
	page := f.pages[scope.Key()]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return page, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, scope models.Scope, content string) (models.Message, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, content)
	gate := f.sendGate
	err := f.sendErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{ID: "server-id", Content: content}, nil
}

func (f *fakeAPI) LoadGroups(ctx context.Context) ([]models.Room, error) {
	return f.groups, nil
}

func (f *fakeAPI) LoadPrivateChats(ctx context.Context) ([]models.Room, error) {
	return f.chats, nil
}

func (f *fakeAPI) LoadOnlineUsers(ctx context.Context) ([]models.User, error) {
	return f.online, nil
}

func (f *fakeAPI) loads() []models.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Scope, len(f.loadCalls))
	copy(out, f.loadCalls)
	return out
}

func (f *fakeAPI) resetLoads() {
	f.mu.Lock()
	f.loadCalls = nil
	f.mu.Unlock()
}

type fakeSession struct {
	mu    sync.Mutex
	user  *models.User
	users chan *models.User
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		user:  &models.User{ID: "me", FirstName: "Me", Country: "PH"},
		users: make(chan *models.User, 4),
	}
}

func (f *fakeSession) CurrentUser() *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeSession) Users() (<-chan *models.User, func()) {
	return f.users, func() {}
}

type fakeComposer struct {
	mu       sync.Mutex
	clears   int
	restores []string
}

func (f *fakeComposer) Clear() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func (f *fakeComposer) Restore(text string) {
	f.mu.Lock()
	f.restores = append(f.restores, text)
	f.mu.Unlock()
}

func (f *fakeComposer) restored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.restores))
	copy(out, f.restores)
	return out
}

func (f *fakeComposer) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type harness struct {
	coord    *Coordinator
	tr       *fakeTransport
	api      *fakeAPI
	session  *fakeSession
	composer *fakeComposer
	rooms    *RoomDirectory
	logs     *MessageLog
	presence *PresenceTracker
	updates  <-chan Update
}

func newHarness(t *testing.T, fa *fakeAPI) *harness {
	t.Helper()

	h := &harness{
		tr:       newFakeTransport(),
		api:      fa,
		session:  newFakeSession(),
		composer: &fakeComposer{},
		rooms:    NewRoomDirectory(),
		logs:     NewMessageLog(),
		presence: NewPresenceTracker(),
	}
	h.coord = NewCoordinator(fa, h.tr, h.session, h.rooms, h.logs, h.presence, h.composer, Options{PageSize: 50})

	updates, cancel := h.coord.Updates()
	h.updates = updates
	t.Cleanup(cancel)

	go h.coord.Run()
	t.Cleanup(h.coord.Stop)

	// Bootstrap finishes with a rooms update; draining it keeps the rest of
	// the test deterministic.
	h.waitUpdate(t, UpdateRooms)
	return h
}

func (h *harness) waitUpdate(t *testing.T, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-h.updates:
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update kind %d", kind)
		}
	}
}

// barrier waits until every command queued before it has run.
func (h *harness) barrier() {
	h.coord.State(models.WorldScope())
}

func worldPage() []models.Message {
	return []models.Message{
		{ID: "m1", Content: "first", SenderID: "u1", Timestamp: testBase.Add(time.Second), ChatType: models.ChatWorld},
		{ID: "m2", Content: "second", SenderID: "u2", Timestamp: testBase.Add(2 * time.Second), ChatType: models.ChatWorld},
	}
}

func TestFocusJoinsFetchesAndIsIdempotent(t *testing.T) {
	fa := newFakeAPI()
	fa.pages[models.WorldScope().Key()] = worldPage()
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.WorldScope()))
	h.waitUpdate(t, UpdateHistory)

	// Re-focusing an already joined room must not re-join or re-fetch.
	require.NoError(t, h.coord.Focus(models.WorldScope()))
	require.NoError(t, h.coord.Focus(models.WorldScope()))
	h.barrier()

	assert.Len(t, h.tr.emitted(EventJoinWorldChat), 1)
	assert.Len(t, fa.loads(), 1)
	assert.Equal(t, StateJoined, h.coord.State(models.WorldScope()))

	got := h.logs.Get(models.WorldScope())
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
}

func TestLiveMessageAppendsAndTracksUnread(t *testing.T) {
	fa := newFakeAPI()
	fa.pages[models.WorldScope().Key()] = worldPage()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.WorldScope()))
	h.waitUpdate(t, UpdateHistory)

	// A message in the focused world room: appended, no unread bump.
	h.tr.pushMessage(models.Message{
		ID: "m3", Content: "third", SenderID: "u2",
		Timestamp: testBase.Add(3 * time.Second), ChatType: models.ChatWorld,
	})
	h.waitUpdate(t, UpdateMessage)

	got := h.logs.Get(models.WorldScope())
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})

	world, _ := h.rooms.Get(models.WorldScope())
	assert.Equal(t, 0, world.UnreadCount)

	// A message in an unfocused group room bumps its unread counter.
	h.tr.pushMessage(models.Message{
		ID: "m4", Content: "psst", SenderID: "u2",
		Timestamp: testBase.Add(4 * time.Second), ChatType: models.ChatGroup, ChatID: "g1",
	})
	h.waitUpdate(t, UpdateMessage)

	g1, ok := h.rooms.Get(models.GroupScope("g1"))
	require.True(t, ok)
	assert.Equal(t, 1, g1.UnreadCount)
	require.NotNil(t, g1.LastMessage)
	assert.Equal(t, "psst", g1.LastMessage.Content)
}

func TestSendValidation(t *testing.T) {
	fa := newFakeAPI()
	h := newHarness(t, fa)

	assert.ErrorIs(t, h.coord.Send(models.WorldScope(), "   "), ErrEmptyMessage)
	assert.ErrorIs(t, h.coord.Send(models.GroupScope(""), "hi"), ErrNoRoomSelected)
	assert.ErrorIs(t, h.coord.Send(models.GroupScope("g1"), "hi"), ErrRoomNotJoined)

	assert.Empty(t, fa.sendCalls)
	assert.Equal(t, 0, h.composer.clearCount())
}

func TestSendFailureRestoresComposerOnce(t *testing.T) {
	fa := newFakeAPI()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	fa.sendErr = errors.New("boom")
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))
	h.waitUpdate(t, UpdateHistory)

	require.NoError(t, h.coord.Send(models.GroupScope("g1"), "hi"))
	assert.Equal(t, 1, h.composer.clearCount())

	u := h.waitUpdate(t, UpdateSendFailed)
	assert.Error(t, u.Err)
	assert.Equal(t, []string{"hi"}, h.composer.restored())

	// No phantom message: the log only changes on a confirmed echo.
	assert.Equal(t, 0, h.logs.Len(models.GroupScope("g1")))
	assert.Equal(t, 0, h.coord.pending.Len())
}

func TestSendAppendsOnlyOnEcho(t *testing.T) {
	fa := newFakeAPI()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))
	h.waitUpdate(t, UpdateHistory)

	require.NoError(t, h.coord.Send(models.GroupScope("g1"), "hi"))
	h.barrier()
	assert.Equal(t, 0, h.logs.Len(models.GroupScope("g1")))

	// The echo is the single source of truth for identity and timestamp.
	h.tr.pushMessage(models.Message{
		ID: "srv-1", Content: "hi", SenderID: "me",
		Timestamp: testBase.Add(time.Second), ChatType: models.ChatGroup, ChatID: "g1",
	})
	u := h.waitUpdate(t, UpdateMessage)

	require.NotNil(t, u.Message)
	assert.True(t, u.Message.IsOwn)

	got := h.logs.Get(models.GroupScope("g1"))
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Equal(t, 0, h.coord.pending.Len())
}

func TestReconnectRejoinsAllAndRefetchesFocusedOnly(t *testing.T) {
	fa := newFakeAPI()
	fa.pages[models.WorldScope().Key()] = worldPage()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.WorldScope()))
	h.waitUpdate(t, UpdateHistory)
	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))
	h.waitUpdate(t, UpdateHistory)

	h.tr.resetEmits()
	fa.resetLoads()

	h.tr.status <- transport.StatusDisconnected
	h.tr.status <- transport.StatusConnected
	h.waitUpdate(t, UpdateHistory)
	h.barrier()

	assert.Len(t, h.tr.emitted(EventJoinWorldChat), 1)
	assert.Len(t, h.tr.emitted(EventJoinGroup), 1)

	loads := fa.loads()
	require.Len(t, loads, 1)
	assert.Equal(t, models.GroupScope("g1"), loads[0])
}

func TestHistoryMergesLiveEventsDuringFetch(t *testing.T) {
	fa := newFakeAPI()
	fa.pages[models.WorldScope().Key()] = worldPage()
	gate := make(chan struct{})
	fa.loadGate = gate
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.WorldScope()))

	// A live message lands while the page request is still in flight.
	h.tr.pushMessage(models.Message{
		ID: "m3", Content: "raced", SenderID: "u2",
		Timestamp: testBase.Add(3 * time.Second), ChatType: models.ChatWorld,
	})
	h.waitUpdate(t, UpdateMessage)

	close(gate)
	h.waitUpdate(t, UpdateHistory)

	got := h.logs.Get(models.WorldScope())
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestGroupDeletedDropsRoomAndFocus(t *testing.T) {
	fa := newFakeAPI()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))
	h.waitUpdate(t, UpdateHistory)

	h.tr.push(EventGroupDeleted, groupDeletedEvent{GroupID: "g1"})
	h.waitUpdate(t, UpdateFocusLost)

	_, ok := h.rooms.Get(models.GroupScope("g1"))
	assert.False(t, ok)
	_, focused := h.rooms.Focused()
	assert.False(t, focused)
	assert.Equal(t, StateNotJoined, h.coord.State(models.GroupScope("g1")))
}

func TestGroupDeletedDuringFetchStaysRemoved(t *testing.T) {
	fa := newFakeAPI()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	fa.pages[models.GroupScope("g1").Key()] = []models.Message{
		{ID: "m1", Content: "old", SenderID: "u1", Timestamp: testBase.Add(time.Second), ChatType: models.ChatGroup, ChatID: "g1"},
	}
	gate := make(chan struct{})
	fa.loadGate = gate
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))

	// The server deletes the room while its history page is still in flight.
	h.tr.push(EventGroupDeleted, groupDeletedEvent{GroupID: "g1"})
	h.waitUpdate(t, UpdateFocusLost)

	close(gate)

	// The late page response must not resurrect the room: no history update
	// may surface for it.
	deadline := time.After(300 * time.Millisecond)
	for wait := true; wait; {
		select {
		case u := <-h.updates:
			if u.Kind == UpdateHistory {
				t.Fatal("history applied for a deleted room")
			}
		case <-deadline:
			wait = false
		}
	}

	assert.Equal(t, StateNotJoined, h.coord.State(models.GroupScope("g1")))
	assert.Equal(t, 0, h.logs.Len(models.GroupScope("g1")))
	_, ok := h.rooms.Get(models.GroupScope("g1"))
	assert.False(t, ok)
	assert.ErrorIs(t, h.coord.Send(models.GroupScope("g1"), "hi"), ErrRoomNotJoined)
}

func TestPresenceEventsPatchTheSet(t *testing.T) {
	fa := newFakeAPI()
	h := newHarness(t, fa)

	h.tr.push(EventOnlineUsers, onlineUsersEvent{Users: []models.User{
		{ID: "a", FirstName: "Alice"},
		{ID: "b", FirstName: "Bob"},
	}})
	h.waitUpdate(t, UpdatePresence)

	h.tr.push(EventUserOffline, userEvent{UserID: "a"})
	h.waitUpdate(t, UpdatePresence)

	got := h.presence.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestAuthExpiredDiscardsLocalState(t *testing.T) {
	fa := newFakeAPI()
	fa.groups = []models.Room{{ID: "g1", Name: "gophers", Type: models.ChatGroup}}
	fa.sendErr = &api.RequestError{Status: http.StatusUnauthorized, Message: "expired"}
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.GroupScope("g1")))
	h.waitUpdate(t, UpdateHistory)

	require.NoError(t, h.coord.Send(models.GroupScope("g1"), "hi"))
	h.waitUpdate(t, UpdateAuthExpired)

	assert.True(t, h.tr.isClosed())
	_, ok := h.rooms.Get(models.GroupScope("g1"))
	assert.False(t, ok)
	assert.Equal(t, 0, h.presence.Count())
}

func TestLogoutTearsDown(t *testing.T) {
	fa := newFakeAPI()
	fa.pages[models.WorldScope().Key()] = worldPage()
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Focus(models.WorldScope()))
	h.waitUpdate(t, UpdateHistory)

	h.session.users <- nil
	u := h.waitUpdate(t, UpdateConnection)

	assert.False(t, u.Connected)
	assert.True(t, h.tr.isClosed())
	assert.Equal(t, 0, h.logs.Len(models.WorldScope()))
}

func TestExpirePendingRestoresComposer(t *testing.T) {
	fa := newFakeAPI()
	gate := make(chan struct{})
	fa.sendGate = gate
	defer close(gate)
	h := newHarness(t, fa)

	require.NoError(t, h.coord.Send(models.WorldScope(), "stuck"))
	h.barrier()
	require.Equal(t, 1, h.coord.pending.Len())

	h.coord.ExpirePending(time.Now().Add(time.Second))
	h.waitUpdate(t, UpdateSendFailed)

	assert.Equal(t, []string{"stuck"}, h.composer.restored())
	assert.Equal(t, 0, h.coord.pending.Len())
}
