package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Patsimim/GlobalChat/internal/api"
	"github.com/Patsimim/GlobalChat/internal/models"
	"github.com/Patsimim/GlobalChat/internal/transport"
)

// RoomState is the per-room subscription tri-state. Leaving is synchronous
// (the leave emit is fire-and-forget), so there is no intermediate state.
type RoomState int

const (
	StateNotJoined RoomState = iota
	StateJoining
	StateJoined
)

var ErrClosed = errors.New("coordinator stopped")

// Transport is the socket channel as the coordinator sees it. The real
// implementation is transport.Channel.
type Transport interface {
	Emit(event string, payload any)
	Events(events ...string) (<-chan transport.Envelope, func())
	Status() (<-chan transport.Status, func())
	IsConnected() bool
	Close() error
}

// HistoryAPI is the request/response side of the chat boundary.
type HistoryAPI interface {
	LoadMessages(ctx context.Context, scope models.Scope, limit, skip int) ([]models.Message, error)
	SendMessage(ctx context.Context, scope models.Scope, content string) (models.Message, error)
	LoadGroups(ctx context.Context) ([]models.Room, error)
	LoadPrivateChats(ctx context.Context) ([]models.Room, error)
	LoadOnlineUsers(ctx context.Context) ([]models.User, error)
}

// SessionSource is the auth collaborator boundary: the local identity and the
// login/logout stream.
type SessionSource interface {
	CurrentUser() *models.User
	Users() (<-chan *models.User, func())
}

// Composer is the message input owned by the UI. The coordinator clears it
// on an accepted send and restores it exactly once if the send fails.
type Composer interface {
	Clear()
	Restore(text string)
}

type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateHistory
	UpdateRooms
	UpdatePresence
	UpdateConnection
	UpdateSendFailed
	UpdateFocusLost
	UpdateAuthExpired
)

// Update is one entry on the coordinator's broadcast stream; the UI renders
// from these rather than polling the stores.
type Update struct {
	Kind      UpdateKind
	Scope     models.Scope
	Message   *models.Message
	Connected bool
	Err       error
}

type roomState struct {
	scope models.Scope
	state RoomState
}

// fetchState buffers live events that arrive while a history page is in
// flight so the replace can merge them back in instead of dropping them.
type fetchState struct {
	buffered []models.Message
}

type Options struct {
	PageSize       int
	RequestTimeout time.Duration
}

// Coordinator sequences join/leave, history fetches, optimistic sends and
// socket-event application so no room ever shows duplicated, missing or
// out-of-order messages. All state mutation happens on its single event
// loop; public methods hand work to the loop and wait for the answer.
type Coordinator struct {
	api      HistoryAPI
	ch       Transport
	session  SessionSource
	rooms    *RoomDirectory
	logs     *MessageLog
	presence *PresenceTracker
	pending  *PendingSends
	limiter  *SendLimiter
	composer Composer
	opts     Options

	// Owned by the event loop, never touched from outside it.
	states   map[string]*roomState
	inflight map[string]*fetchState

	commands chan func()
	done     chan struct{}
	once     sync.Once

	subMu sync.Mutex
	subs  map[chan Update]bool
}

func NewCoordinator(
	historyAPI HistoryAPI,
	ch Transport,
	session SessionSource,
	rooms *RoomDirectory,
	logs *MessageLog,
	presence *PresenceTracker,
	composer Composer,
	opts Options,
) *Coordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Coordinator{
		api:      historyAPI,
		ch:       ch,
		session:  session,
		rooms:    rooms,
		logs:     logs,
		presence: presence,
		pending:  NewPendingSends(),
		limiter:  DefaultSendLimiter(),
		composer: composer,
		opts:     opts,
		states:   make(map[string]*roomState),
		inflight: make(map[string]*fetchState),
		commands: make(chan func(), 64),
		done:     make(chan struct{}),
		subs:     make(map[chan Update]bool),
	}
}

// Run is the event loop. Start it with `go c.Run()`; it exits on Stop.
func (c *Coordinator) Run() {
	events, cancelEvents := c.ch.Events(
		EventWorldMessage, EventGroupMessage, EventPrivateMessage,
		EventGroupCreated, EventGroupUpdated, EventGroupDeleted,
		EventParticipantAdded, EventParticipantRemoved, EventPrivateChatCreated,
		EventOnlineUsers, EventUserOnline, EventUserOffline,
	)
	defer cancelEvents()

	status, cancelStatus := c.ch.Status()
	defer cancelStatus()

	users, cancelUsers := c.session.Users()
	defer cancelUsers()

	log.Println("[COORD] Event loop started")
	c.bootstrap()

	for {
		select {
		case fn := <-c.commands:
			fn()

		case env := <-events:
			c.handleEvent(env)

		case st := <-status:
			c.handleStatus(st)

		case u := <-users:
			if u == nil {
				log.Println("[COORD] Session ended, tearing down")
				c.teardown()
			}

		case <-c.done:
			log.Println("[COORD] Event loop stopped")
			return
		}
	}
}

func (c *Coordinator) Stop() {
	c.once.Do(func() { close(c.done) })
}

// Updates subscribes to the coordinator's broadcast stream.
func (c *Coordinator) Updates() (<-chan Update, func()) {
	ch := make(chan Update, 64)

	c.subMu.Lock()
	c.subs[ch] = true
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		delete(c.subs, ch)
		c.subMu.Unlock()
	}
	return ch, cancel
}

// Focus makes a room the active selection. The first focus of a room joins it
// and fetches a history page; re-focusing an already joined room only resets
// its unread counter.
func (c *Coordinator) Focus(scope models.Scope) error {
	return c.call(func() error {
		c.focus(scope)
		return nil
	})
}

// Send validates and submits a message. The composer is cleared immediately
// on acceptance; the room log is only touched when the socket echo arrives.
func (c *Coordinator) Send(scope models.Scope, body string) error {
	return c.call(func() error {
		return c.send(scope, body)
	})
}

// Leave closes a room's subscription and drops its local log.
func (c *Coordinator) Leave(scope models.Scope) error {
	return c.call(func() error {
		c.leave(scope)
		return nil
	})
}

// State reports a room's subscription state.
func (c *Coordinator) State(scope models.Scope) RoomState {
	st := StateNotJoined
	c.call(func() error {
		if rs, ok := c.states[scope.Key()]; ok {
			st = rs.state
		}
		return nil
	})
	return st
}

// ExpirePending fails every send older than the cutoff, restoring the
// composer for each exactly as an explicit request failure would.
func (c *Coordinator) ExpirePending(cutoff time.Time) {
	c.post(func() {
		for _, ps := range c.pending.Expire(cutoff) {
			log.Printf("[COORD] Send to %s expired without echo or failure", ps.Scope)
			c.composer.Restore(ps.Body)
			c.publish(Update{Kind: UpdateSendFailed, Scope: ps.Scope, Err: ErrNotConnected})
		}
	})
}

// --- event loop internals ---

func (c *Coordinator) focus(scope models.Scope) {
	c.rooms.MarkFocused(scope)
	c.publish(Update{Kind: UpdateRooms})

	rs := c.roomState(scope)
	switch rs.state {
	case StateJoined, StateJoining:
		// Idempotent: no re-join, no duplicate history fetch.
		return
	}

	rs.state = StateJoining
	c.emitJoin(scope)
	c.beginFetch(scope)
}

func (c *Coordinator) send(scope models.Scope, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if !scope.IsWorld() {
		if scope.ID == "" {
			return ErrNoRoomSelected
		}
		rs, ok := c.states[scope.Key()]
		if !ok || rs.state != StateJoined {
			return ErrRoomNotJoined
		}
	}
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	ps := c.pending.Add(scope, body)
	c.composer.Clear()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()

		_, err := c.api.SendMessage(ctx, scope, body)
		if err == nil {
			// The echo, not this response, appends to the log and retires
			// the pending record.
			return
		}

		c.post(func() {
			if rec, ok := c.pending.Fail(ps.LocalID); ok {
				c.composer.Restore(rec.Body)
				c.publish(Update{Kind: UpdateSendFailed, Scope: scope, Err: err})
			}
			if api.IsAuthExpired(err) {
				c.authExpired()
			}
		})
	}()
	return nil
}

func (c *Coordinator) leave(scope models.Scope) {
	rs, ok := c.states[scope.Key()]
	if !ok || rs.state == StateNotJoined {
		return
	}

	c.emitLeave(scope)
	rs.state = StateNotJoined

	c.logs.Drop(scope)
	if focused, ok := c.rooms.Focused(); ok && focused == scope {
		c.rooms.ClearFocus()
		c.publish(Update{Kind: UpdateFocusLost, Scope: scope})
	}
	c.publish(Update{Kind: UpdateRooms})
}

func (c *Coordinator) beginFetch(scope models.Scope) {
	key := scope.Key()
	if _, ok := c.inflight[key]; ok {
		return
	}
	c.inflight[key] = &fetchState{}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()

		page, err := c.api.LoadMessages(ctx, scope, c.opts.PageSize, 0)
		c.post(func() { c.finishFetch(scope, page, err) })
	}()
}

func (c *Coordinator) finishFetch(scope models.Scope, page []models.Message, err error) {
	key := scope.Key()
	fs := c.inflight[key]
	delete(c.inflight, key)

	rs, ok := c.states[key]
	if !ok {
		// The room was removed while the page was in flight; the response is
		// for a room the server no longer has.
		log.Printf("[COORD] Discarding history for removed room %s", scope)
		return
	}
	if err != nil {
		if rs.state == StateJoining {
			rs.state = StateNotJoined
		}
		log.Printf("[COORD] History fetch for %s failed: %v", scope, err)
		if api.IsAuthExpired(err) {
			c.authExpired()
			return
		}
		c.publish(Update{Kind: UpdateHistory, Scope: scope, Err: err})
		return
	}

	self := c.selfID()
	for i := range page {
		page[i].IsOwn = page[i].SenderID == self
	}
	c.logs.Replace(scope, page)

	// Live events that raced the fetch are re-applied on top of the page.
	// Append is idempotent by id so overlap is harmless.
	if fs != nil {
		for _, m := range fs.buffered {
			c.logs.Append(scope, m)
		}
	}

	if rs.state != StateJoined {
		rs.state = StateJoined
	}
	c.publish(Update{Kind: UpdateHistory, Scope: scope})
}

func (c *Coordinator) handleEvent(env transport.Envelope) {
	switch env.Event {
	case EventWorldMessage, EventGroupMessage, EventPrivateMessage:
		c.handleMessage(env)

	case EventGroupCreated, EventGroupUpdated:
		var ev groupEvent
		if json.Unmarshal(env.Data, &ev) != nil {
			return
		}
		ev.Group.Type = models.ChatGroup
		c.rooms.Upsert(ev.Group)
		c.publish(Update{Kind: UpdateRooms})

	case EventGroupDeleted:
		var ev groupDeletedEvent
		if json.Unmarshal(env.Data, &ev) != nil {
			return
		}
		c.removeRoom(models.GroupScope(ev.GroupID))

	case EventParticipantAdded, EventParticipantRemoved:
		c.handleParticipant(env)

	case EventPrivateChatCreated:
		var ev privateChatEvent
		if json.Unmarshal(env.Data, &ev) != nil {
			return
		}
		ev.Chat.Type = models.ChatPrivate
		c.rooms.Upsert(ev.Chat)
		c.publish(Update{Kind: UpdateRooms})

	case EventOnlineUsers:
		var ev onlineUsersEvent
		if json.Unmarshal(env.Data, &ev) != nil {
			return
		}
		c.presence.ReplaceAll(ev.Users)
		c.publish(Update{Kind: UpdatePresence})

	case EventUserOnline:
		var ev userEvent
		if json.Unmarshal(env.Data, &ev) != nil || ev.User == nil {
			return
		}
		c.presence.SetOnline(*ev.User)
		c.publish(Update{Kind: UpdatePresence})

	case EventUserOffline:
		var ev userEvent
		if json.Unmarshal(env.Data, &ev) != nil {
			return
		}
		id := ev.UserID
		if id == "" && ev.User != nil {
			id = ev.User.ID
		}
		c.presence.SetOffline(id)
		c.publish(Update{Kind: UpdatePresence})
	}
}

func (c *Coordinator) handleMessage(env transport.Envelope) {
	var ev messageEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		log.Printf("[COORD] Dropping malformed %s: %v", env.Event, err)
		return
	}

	msg := ev.Message
	scope := msg.Scope()
	msg.IsOwn = msg.SenderID == c.selfID()

	// A page in flight for this room will replace the buffer; remember the
	// message so the merge step can re-apply it.
	if fs, ok := c.inflight[scope.Key()]; ok {
		fs.buffered = append(fs.buffered, msg)
	}

	c.logs.Append(scope, msg)
	c.rooms.RecordIncoming(scope, msg)

	if msg.IsOwn {
		// The echo is the authoritative confirmation; the pending record has
		// done its job.
		c.pending.MatchEcho(scope, msg.Content)
	}

	c.publish(Update{Kind: UpdateMessage, Scope: scope, Message: &msg})
}

func (c *Coordinator) handleParticipant(env transport.Envelope) {
	var ev participantEvent
	if json.Unmarshal(env.Data, &ev) != nil {
		return
	}

	scope := models.GroupScope(ev.GroupID)
	room, ok := c.rooms.Get(scope)
	if !ok {
		return
	}

	updated := *room
	if env.Event == EventParticipantAdded && ev.Participant != nil {
		updated.Participants = append(updated.Participants, *ev.Participant)
	} else if env.Event == EventParticipantRemoved {
		kept := updated.Participants[:0:0]
		for _, p := range updated.Participants {
			if p.ID != ev.ParticipantID {
				kept = append(kept, p)
			}
		}
		updated.Participants = kept
	}
	c.rooms.Upsert(updated)
	c.publish(Update{Kind: UpdateRooms})
}

func (c *Coordinator) handleStatus(st transport.Status) {
	switch st {
	case transport.StatusConnected:
		log.Println("[COORD] Transport connected, re-establishing joins")
		c.publish(Update{Kind: UpdateConnection, Connected: true})

		// Rooms keep their subscription state across a transport drop; the
		// server does not. Re-emit every join, then close the gap for the
		// focused room only.
		for _, rs := range c.states {
			if rs.state == StateJoined || rs.state == StateJoining {
				c.emitJoin(rs.scope)
			}
		}
		if focused, ok := c.rooms.Focused(); ok {
			if rs, ok := c.states[focused.Key()]; ok && rs.state == StateJoined {
				c.beginFetch(focused)
			}
		}

	case transport.StatusDisconnected:
		c.publish(Update{Kind: UpdateConnection, Connected: false})

	case transport.StatusUnauthenticated:
		c.authExpired()
	}
}

// bootstrap loads the room lists and the online-user set once at startup.
func (c *Coordinator) bootstrap() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()

		groups, gErr := c.api.LoadGroups(ctx)
		chats, pErr := c.api.LoadPrivateChats(ctx)
		users, uErr := c.api.LoadOnlineUsers(ctx)

		c.post(func() {
			for _, err := range []error{gErr, pErr, uErr} {
				if err != nil && api.IsAuthExpired(err) {
					c.authExpired()
					return
				}
			}
			if gErr == nil {
				for _, room := range groups {
					room.Type = models.ChatGroup
					c.rooms.Upsert(room)
				}
			} else {
				log.Printf("[COORD] Loading groups failed: %v", gErr)
			}
			if pErr == nil {
				for _, room := range chats {
					room.Type = models.ChatPrivate
					c.rooms.Upsert(room)
				}
			} else {
				log.Printf("[COORD] Loading private chats failed: %v", pErr)
			}
			if uErr == nil {
				c.presence.ReplaceAll(users)
				c.publish(Update{Kind: UpdatePresence})
			} else {
				log.Printf("[COORD] Loading online users failed: %v", uErr)
			}
			c.publish(Update{Kind: UpdateRooms})
		})
	}()
}

func (c *Coordinator) removeRoom(scope models.Scope) {
	focused, hadFocus := c.rooms.Focused()

	c.rooms.Remove(scope)
	c.logs.Drop(scope)
	delete(c.states, scope.Key())
	// A page fetch still in flight must not repopulate the dropped log when
	// it completes.
	delete(c.inflight, scope.Key())

	if hadFocus && focused == scope {
		c.publish(Update{Kind: UpdateFocusLost, Scope: scope})
	}
	c.publish(Update{Kind: UpdateRooms})
}

// authExpired discards the local view and surfaces the condition; the auth
// collaborator owns the logout/redirect that follows.
func (c *Coordinator) authExpired() {
	log.Println("[COORD] Credential rejected, discarding local state")
	c.teardown()
	c.publish(Update{Kind: UpdateAuthExpired, Err: ErrUnauthenticated})
}

func (c *Coordinator) teardown() {
	for _, rs := range c.states {
		if rs.state == StateJoined || rs.state == StateJoining {
			c.emitLeave(rs.scope)
		}
	}
	c.states = make(map[string]*roomState)
	c.inflight = make(map[string]*fetchState)
	c.pending.Clear()
	c.logs.Clear()
	c.rooms.Clear()
	c.presence.Clear()
	c.ch.Close()
	c.publish(Update{Kind: UpdateConnection, Connected: false})
}

func (c *Coordinator) emitJoin(scope models.Scope) {
	switch scope.Type {
	case models.ChatWorld:
		c.ch.Emit(EventJoinWorldChat, struct{}{})
	case models.ChatGroup:
		c.ch.Emit(EventJoinGroup, joinGroupPayload{GroupID: scope.ID})
	case models.ChatPrivate:
		c.ch.Emit(EventJoinPrivateChat, joinPrivatePayload{ChatID: scope.ID})
	}
}

func (c *Coordinator) emitLeave(scope models.Scope) {
	switch scope.Type {
	case models.ChatWorld:
		c.ch.Emit(EventLeaveWorldChat, struct{}{})
	case models.ChatGroup:
		c.ch.Emit(EventLeaveGroup, joinGroupPayload{GroupID: scope.ID})
	case models.ChatPrivate:
		c.ch.Emit(EventLeavePrivateChat, joinPrivatePayload{ChatID: scope.ID})
	}
}

func (c *Coordinator) roomState(scope models.Scope) *roomState {
	key := scope.Key()
	rs, ok := c.states[key]
	if !ok {
		rs = &roomState{scope: scope, state: StateNotJoined}
		c.states[key] = rs
	}
	return rs
}

func (c *Coordinator) selfID() string {
	if u := c.session.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

func (c *Coordinator) publish(u Update) {
	c.subMu.Lock()
	targets := make([]chan Update, 0, len(c.subs))
	for ch := range c.subs {
		targets = append(targets, ch)
	}
	c.subMu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- u:
		default:
		}
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.done:
	}
}

func (c *Coordinator) call(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.commands <- func() { res <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		return ErrClosed
	}
}
