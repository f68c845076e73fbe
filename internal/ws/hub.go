package ws

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/google/uuid"

	"voxa-chat/internal/models"
	"voxa-chat/internal/observability"
	"voxa-chat/internal/realtime"
)

// Presence snapshots are full replacements, so only the newest few matter.
const presenceBacklog = 8

// ErrNotSubscribed is returned when a participant publishes presence on a
// channel it has not joined.
var ErrNotSubscribed = errors.New("participant not subscribed")

// Hub routes message row events and presence state between sessions in this
// process. Each subscriber receives its events in order on its own goroutine.
// Inserts and deletions are never dropped; a slow presence subscriber skips
// intermediate snapshots.
type Hub struct {
	mu              sync.Mutex
	feeds           map[string]map[*feedSub]struct{}
	presence        map[string]*presenceChannel
	presenceBacklog int
}

type presenceChannel struct {
	states map[string]realtime.PresenceState
	subs   map[string]*presenceSub
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		feeds:           make(map[string]map[*feedSub]struct{}),
		presence:        make(map[string]*presenceChannel),
		presenceBacklog: presenceBacklog,
	}
}

// mailbox runs queued callbacks in order on its own goroutine. With a limit of
// zero it never drops; otherwise the oldest pending callback is discarded once
// limit are waiting.
type mailbox struct {
	mu      sync.Mutex
	pending []func()
	limit   int
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func newMailbox(limit int) *mailbox {
	m := &mailbox{limit: limit, wake: make(chan struct{}, 1), stop: make(chan struct{})}
	go m.run()
	return m
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.wake:
		case <-m.stop:
			return
		}
		for {
			m.mu.Lock()
			if len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			fn := m.pending[0]
			m.pending[0] = nil
			m.pending = m.pending[1:]
			m.mu.Unlock()

			select {
			case <-m.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (m *mailbox) deliver(fn func()) {
	select {
	case <-m.stop:
		return
	default:
	}
	m.mu.Lock()
	if m.limit > 0 && len(m.pending) >= m.limit {
		m.pending[0] = nil
		m.pending = m.pending[1:]
		observability.IncRealtimeDropped("queue_full")
	}
	m.pending = append(m.pending, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) backlog() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.stop) })
}

type feedSub struct {
	hub     *Hub
	channel string
	handler realtime.FeedHandler
	box     *mailbox
}

func (s *feedSub) Unsubscribe() error {
	s.hub.mu.Lock()
	if subs, ok := s.hub.feeds[s.channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.feeds, s.channel)
		}
	}
	s.hub.mu.Unlock()
	s.box.close()
	return nil
}

// SubscribeMessages registers handler for row events on channel.
func (h *Hub) SubscribeMessages(ctx context.Context, channel string, handler realtime.FeedHandler) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &feedSub{hub: h, channel: channel, handler: handler, box: newMailbox(0)}
	h.mu.Lock()
	if _, ok := h.feeds[channel]; !ok {
		h.feeds[channel] = make(map[*feedSub]struct{})
	}
	h.feeds[channel][sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// Dispatch fans a database row event out to the subscribers of its room.
func (h *Hub) Dispatch(event models.MessageEvent) {
	switch event.Op {
	case models.MessageEventInsert:
		h.BroadcastInsert(event.Message)
	case models.MessageEventDelete:
		h.BroadcastDeletion(event.Message.RoomID, event.Message.ID)
	default:
		observability.IncRealtimeDropped("unknown_op")
	}
}

// BroadcastInsert delivers a newly stored message.
func (h *Hub) BroadcastInsert(msg models.Message) {
	for _, sub := range h.feedSubs(msg.RoomID) {
		if sub.handler.OnInsert == nil {
			continue
		}
		onInsert := sub.handler.OnInsert
		sub.box.deliver(func() { onInsert(msg) })
	}
}

// BroadcastDeletion delivers a message removal.
func (h *Hub) BroadcastDeletion(roomID, messageID uuid.UUID) {
	for _, sub := range h.feedSubs(roomID) {
		if sub.handler.OnDelete == nil {
			continue
		}
		onDelete := sub.handler.OnDelete
		sub.box.deliver(func() { onDelete(roomID, messageID) })
	}
}

func (h *Hub) feedSubs(roomID uuid.UUID) []*feedSub {
	channel := roomKeyFor(roomID).ChannelName(realtime.ChannelMessages)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*feedSub, 0, len(h.feeds[channel]))
	for sub := range h.feeds[channel] {
		subs = append(subs, sub)
	}
	return subs
}

func roomKeyFor(roomID uuid.UUID) realtime.RoomKey {
	if roomID == realtime.GlobalRoomID {
		return realtime.Global()
	}
	return realtime.Private(roomID)
}

type presenceSub struct {
	hub         *Hub
	channel     string
	participant string
	onSync      func(realtime.PresenceSnapshot)
	box         *mailbox
}

func (s *presenceSub) Unsubscribe() error {
	h := s.hub
	h.mu.Lock()
	pc, ok := h.presence[s.channel]
	if !ok || pc.subs[s.participant] != s {
		h.mu.Unlock()
		s.box.close()
		return nil
	}
	delete(pc.subs, s.participant)
	delete(pc.states, s.participant)
	if len(pc.subs) == 0 {
		delete(h.presence, s.channel)
	} else {
		h.syncLocked(pc)
	}
	h.mu.Unlock()
	s.box.close()
	return nil
}

// SubscribePresence joins participant to channel. Every subscriber, the new
// one included, receives the updated snapshot.
func (h *Hub) SubscribePresence(ctx context.Context, channel, participant string, onSync func(realtime.PresenceSnapshot)) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &presenceSub{hub: h, channel: channel, participant: participant, onSync: onSync, box: newMailbox(h.presenceBacklog)}

	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.presence[channel]
	if !ok {
		pc = &presenceChannel{
			states: make(map[string]realtime.PresenceState),
			subs:   make(map[string]*presenceSub),
		}
		h.presence[channel] = pc
	}
	if prev, exists := pc.subs[participant]; exists {
		prev.box.close()
	}
	pc.subs[participant] = sub
	h.syncLocked(pc)
	return sub, nil
}

// PublishPresence replaces participant's state on channel.
func (h *Hub) PublishPresence(ctx context.Context, channel, participant string, state realtime.PresenceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.presence[channel]
	if !ok {
		return ErrNotSubscribed
	}
	if _, ok := pc.subs[participant]; !ok {
		return ErrNotSubscribed
	}
	pc.states[participant] = state
	h.syncLocked(pc)
	return nil
}

func (h *Hub) syncLocked(pc *presenceChannel) {
	for _, sub := range pc.subs {
		if sub.onSync == nil {
			continue
		}
		snapshot := realtime.PresenceSnapshot(maps.Clone(pc.states))
		if snapshot == nil {
			snapshot = realtime.PresenceSnapshot{}
		}
		onSync := sub.onSync
		sub.box.deliver(func() { onSync(snapshot) })
	}
}

// Subscribers reports how many message and presence subscriptions are live.
func (h *Hub) Subscribers() (messages, presence int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.feeds {
		messages += len(subs)
	}
	for _, pc := range h.presence {
		presence += len(pc.subs)
	}
	return messages, presence
}
