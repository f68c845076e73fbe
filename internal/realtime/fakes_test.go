package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxa-chat/internal/models"
)

type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	sched   *manualScheduler
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{sched: s, at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward, firing due timers in order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *manualTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		s.now = next.at
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type feedSub struct {
	feed    *fakeFeed
	channel string
	handler FeedHandler
	active  bool
}

func (s *feedSub) Unsubscribe() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.active = false
	return nil
}

type fakeFeed struct {
	mu    sync.Mutex
	subs  []*feedSub
	err   error
	calls int
}

func (f *fakeFeed) SubscribeMessages(ctx context.Context, channel string, handler FeedHandler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub := &feedSub{feed: f, channel: channel, handler: handler, active: true}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) handlers(channel string, onlyActive bool) []FeedHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FeedHandler
	for _, sub := range f.subs {
		if sub.channel == channel && (sub.active || !onlyActive) {
			out = append(out, sub.handler)
		}
	}
	return out
}

func (f *fakeFeed) insert(channel string, m models.Message) {
	for _, h := range f.handlers(channel, true) {
		h.OnInsert(m)
	}
}

func (f *fakeFeed) delete(channel string, roomID, messageID uuid.UUID) {
	for _, h := range f.handlers(channel, true) {
		h.OnDelete(roomID, messageID)
	}
}

func (f *fakeFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if sub.active {
			n++
		}
	}
	return n
}

type publishCall struct {
	channel     string
	participant string
	state       PresenceState
}

type presenceSub struct {
	transport   *fakePresence
	channel     string
	participant string
	onSync      func(PresenceSnapshot)
	active      bool
}

func (s *presenceSub) Unsubscribe() error {
	s.transport.mu.Lock()
	s.active = false
	delete(s.transport.state[s.channel], s.participant)
	s.transport.mu.Unlock()
	s.transport.broadcast(s.channel)
	return nil
}

type fakePresence struct {
	mu        sync.Mutex
	subs      []*presenceSub
	state     map[string]PresenceSnapshot
	published []publishCall
	err       error
}

func newFakePresence() *fakePresence {
	return &fakePresence{state: make(map[string]PresenceSnapshot)}
}

func (p *fakePresence) SubscribePresence(ctx context.Context, channel, participant string, onSync func(PresenceSnapshot)) (Subscription, error) {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	sub := &presenceSub{transport: p, channel: channel, participant: participant, onSync: onSync, active: true}
	p.subs = append(p.subs, sub)
	snapshot := p.copyState(channel)
	p.mu.Unlock()
	onSync(snapshot)
	return sub, nil
}

func (p *fakePresence) PublishPresence(ctx context.Context, channel, participant string, state PresenceState) error {
	p.mu.Lock()
	p.published = append(p.published, publishCall{channel: channel, participant: participant, state: state})
	if p.state[channel] == nil {
		p.state[channel] = PresenceSnapshot{}
	}
	p.state[channel][participant] = state
	p.mu.Unlock()
	p.broadcast(channel)
	return nil
}

// set replaces one remote participant's state and announces the snapshot.
func (p *fakePresence) set(channel, participant string, state PresenceState) {
	p.mu.Lock()
	if p.state[channel] == nil {
		p.state[channel] = PresenceSnapshot{}
	}
	p.state[channel][participant] = state
	p.mu.Unlock()
	p.broadcast(channel)
}

func (p *fakePresence) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePresence) publishedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.published))
	for _, call := range p.published {
		names = append(names, call.state.DisplayName)
	}
	return names
}

func (p *fakePresence) typingFlags() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	flags := make([]bool, 0, len(p.published))
	for _, call := range p.published {
		flags = append(flags, call.state.Typing)
	}
	return flags
}

func (p *fakePresence) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sub := range p.subs {
		if sub.active {
			n++
		}
	}
	return n
}

func (p *fakePresence) broadcast(channel string) {
	p.mu.Lock()
	snapshot := p.copyState(channel)
	var targets []func(PresenceSnapshot)
	for _, sub := range p.subs {
		if sub.active && sub.channel == channel {
			targets = append(targets, sub.onSync)
		}
	}
	p.mu.Unlock()
	for _, fn := range targets {
		fn(snapshot)
	}
}

func (p *fakePresence) copyState(channel string) PresenceSnapshot {
	out := make(PresenceSnapshot, len(p.state[channel]))
	for k, v := range p.state[channel] {
		out[k] = v
	}
	return out
}

type appendCall struct {
	key      RoomKey
	authorID uuid.UUID
	body     string
	imageURL *string
}

type fakeStore struct {
	mu        sync.Mutex
	history   map[RoomKey][]models.Message
	gates     map[RoomKey]chan struct{}
	fetchErr  error
	appendErr error
	appended  []appendCall
	onAppend  func(models.Message)
	clock     time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history: make(map[RoomKey][]models.Message),
		gates:   make(map[RoomKey]chan struct{}),
		clock:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) FetchRecent(ctx context.Context, key RoomKey, limit int) ([]models.Message, error) {
	s.mu.Lock()
	gate := s.gates[key]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	msgs := append([]models.Message(nil), s.history[key]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *fakeStore) Append(ctx context.Context, key RoomKey, authorID uuid.UUID, body string, imageURL *string) (models.Message, error) {
	s.mu.Lock()
	s.appended = append(s.appended, appendCall{key: key, authorID: authorID, body: body, imageURL: imageURL})
	if s.appendErr != nil {
		err := s.appendErr
		s.mu.Unlock()
		return models.Message{}, err
	}
	s.clock = s.clock.Add(time.Second)
	msg := models.Message{ID: uuid.New(), RoomID: key.RoomID(), AuthorID: authorID, Body: body, ImageURL: imageURL, CreatedAt: s.clock}
	s.history[key] = append(s.history[key], msg)
	hook := s.onAppend
	s.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return msg, nil
}

func (s *fakeStore) Delete(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, msgs := range s.history {
		for i, m := range msgs {
			if m.ID == messageID {
				s.history[key] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *fakeStore) gate(key RoomKey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[key] = ch
	return ch
}

func (s *fakeStore) appends() []appendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appendCall(nil), s.appended...)
}

type fakeEnroller struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (e *fakeEnroller) EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, roomID)
	return e.err
}

type fakeAuthors map[uuid.UUID]string

func (a fakeAuthors) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if name, ok := a[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}
