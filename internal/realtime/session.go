package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"voxa-chat/internal/models"
	"voxa-chat/internal/observability"
)

const (
	DefaultHistoryLimit = 50
	MaxBodyRunes        = 500
	ImagePlaceholder    = "📷 Image"
	UnknownAuthor       = "Unknown"

	publishTimeout = 5 * time.Second
	eventQueueSize = 256
)

// View is what a UI renders for the current room.
type View struct {
	Room       RoomKey          `json:"room"`
	Messages   []models.Message `json:"messages"`
	Typing     []string         `json:"typing"`
	TypingText string           `json:"typing_text,omitempty"`
	Degraded   bool             `json:"degraded"`
	Closed     bool             `json:"closed,omitempty"`
}

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	Identity      Identity
	ParticipantID string

	Store    MessageStore
	Feed     MessageFeed
	Presence PresenceTransport
	Enroller Enroller
	Authors  AuthorDirectory

	Scheduler    Scheduler
	Logger       *log.Logger
	HistoryLimit int
	TypingExpiry time.Duration
	NewBackOff   func() backoff.BackOff

	// OnChange and OnError run on the session goroutine and must not call
	// back into the session synchronously.
	OnChange func(View)
	OnError  func(error)
}

// Session is one user's view of one room at a time. All state is owned by a
// single goroutine; network calls run elsewhere and re-enter through its
// queue tagged with the room generation they were issued for.
type Session struct {
	identity   Identity
	store      MessageStore
	enroller   Enroller
	authors    AuthorDirectory
	logger     *log.Logger
	sched      Scheduler
	limit      int
	newBackOff func() backoff.BackOff
	onChange   func(View)
	onError    func(error)

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	selfName atomic.Value

	// owned by the session goroutine
	generation  uint64
	key         RoomKey
	hasRoom     bool
	closed      bool
	degraded    bool
	channel     *RoomChannel
	tracker     *PresenceTracker
	messages    []models.Message
	index       map[uuid.UUID]struct{}
	fetchCancel context.CancelFunc
	retry       backoff.BackOff
	retryTimer  Timer

	dropped func(error)
}

// NewSession builds a session. Call Start before any other operation.
func NewSession(cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity:   cfg.Identity,
		store:      cfg.Store,
		enroller:   cfg.Enroller,
		authors:    cfg.Authors,
		logger:     cfg.Logger,
		limit:      cfg.HistoryLimit,
		newBackOff: cfg.NewBackOff,
		onChange:   cfg.OnChange,
		onError:    cfg.OnError,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan func(), eventQueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		index:      make(map[uuid.UUID]struct{}),
	}
	s.selfName.Store(cfg.Identity.DisplayName)
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "session ", log.LstdFlags)
	}
	if s.limit <= 0 {
		s.limit = DefaultHistoryLimit
	}
	if s.newBackOff == nil {
		s.newBackOff = defaultBackOff
	}
	base := cfg.Scheduler
	if base == nil {
		base = clockScheduler{}
	}
	s.sched = loopScheduler{base: base, post: s.post}

	participant := cfg.ParticipantID
	if participant == "" {
		participant = uuid.NewString()
	}
	s.channel = NewRoomChannel(cfg.Feed, cfg.Presence, participant, cfg.Identity.DisplayName)
	s.tracker = NewPresenceTracker(participant, cfg.Identity.DisplayName, s.sched, cfg.TypingExpiry, s.publishTyping)
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start enrolls the user in the global room and starts the session goroutine.
func (s *Session) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}
	if s.enroller != nil {
		if err := s.enroller.EnsureMember(ctx, GlobalRoomID, s.identity.UserID); err != nil {
			return &StoreError{Op: "enroll", Err: err}
		}
	}
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
	return nil
}

// Close tears the session down and waits for its goroutine to exit.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
	s.cancel()
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.stop:
			s.leaveRoom()
			return
		}
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.stop:
	}
}

func (s *Session) do(fn func() error) error {
	if !s.started.Load() {
		return ErrSessionNotStarted
	}
	result := make(chan error, 1)
	select {
	case s.events <- func() { result <- fn() }:
	case <-s.stop:
		return ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// SwitchRoom leaves the current room and binds the session to key. A
// subscription failure is returned but the session stays on key, keeps its
// history and retries in the background.
func (s *Session) SwitchRoom(ctx context.Context, key RoomKey) error {
	return s.do(func() error {
		if s.closed {
			return ErrNoIdentity
		}
		s.leaveRoom()
		s.key = key
		s.hasRoom = true
		gen := s.generation

		fetchCtx, cancel := context.WithCancel(s.ctx)
		s.fetchCancel = cancel
		go s.fetchHistory(fetchCtx, gen, key)

		err := s.openChannel(ctx, gen, key)
		if err != nil {
			s.logger.Printf("subscribe failed room=%s err=%v", key, err)
			s.degraded = true
			s.scheduleRetry(gen, key)
		}
		s.emit()
		return err
	})
}

// Send appends a message to the current room. The message shows up through
// the live feed, not optimistically.
func (s *Session) Send(ctx context.Context, body string, imageURL *string) error {
	body, imageURL, err := normalizeBody(body, imageURL)
	if err != nil {
		return err
	}

	var (
		key RoomKey
		gen uint64
	)
	if err := s.do(func() error {
		if s.closed {
			return ErrNoIdentity
		}
		if !s.hasRoom {
			return ErrNoRoom
		}
		key, gen = s.key, s.generation
		return nil
	}); err != nil {
		return err
	}

	if _, err := s.store.Append(ctx, key, s.identity.UserID, body, imageURL); err != nil {
		return &StoreError{Op: "append", Err: err}
	}

	_ = s.do(func() error {
		if s.generation == gen {
			s.tracker.SetLocalTyping(false)
		}
		return nil
	})
	return nil
}

// OnTypingKeystroke marks the local user as typing in the current room.
func (s *Session) OnTypingKeystroke() error {
	return s.do(func() error {
		if s.closed {
			return ErrNoIdentity
		}
		if !s.hasRoom {
			return ErrNoRoom
		}
		s.tracker.SetLocalTyping(true)
		return nil
	})
}

// Rename changes the name the local user is shown with. Messages already in
// the list keep the name they were resolved with.
func (s *Session) Rename(name string) error {
	return s.do(func() error {
		if s.closed {
			return ErrNoIdentity
		}
		if name == "" || name == s.displayName() {
			return nil
		}
		s.selfName.Store(name)
		s.channel.SetDisplayName(name)
		s.tracker.SetDisplayName(name)
		if s.tracker.LocalTyping() {
			s.publishTyping(true)
		}
		return nil
	})
}

func (s *Session) displayName() string {
	name, _ := s.selfName.Load().(string)
	return name
}

// IdentityLost drops all room state at once. Later operations fail with ErrNoIdentity.
func (s *Session) IdentityLost() error {
	return s.do(func() error {
		if s.closed {
			return nil
		}
		s.leaveRoom()
		s.closed = true
		s.hasRoom = false
		s.key = Global()
		s.emit()
		return nil
	})
}

// View returns the current view.
func (s *Session) View() (View, error) {
	var v View
	err := s.do(func() error {
		v = s.snapshot()
		return nil
	})
	return v, err
}

func normalizeBody(body string, imageURL *string) (string, *string, error) {
	body = strings.TrimSpace(body)
	if imageURL != nil && strings.TrimSpace(*imageURL) == "" {
		imageURL = nil
	}
	if body == "" && imageURL == nil {
		return "", nil, &ValidationError{Reason: "message is empty"}
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return "", nil, &ValidationError{Reason: fmt.Sprintf("message exceeds %d characters", MaxBodyRunes)}
	}
	if body == "" {
		body = ImagePlaceholder
	}
	return body, imageURL, nil
}

// leaveRoom invalidates everything tied to the current room.
func (s *Session) leaveRoom() {
	s.generation++
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.cancelRetry()
	s.tracker.Reset()
	if err := s.channel.Close(); err != nil {
		s.logger.Printf("channel close failed room=%s err=%v", s.key, err)
	}
	s.messages = nil
	clear(s.index)
	s.degraded = false
}

func (s *Session) openChannel(ctx context.Context, gen uint64, key RoomKey) error {
	return s.channel.Open(ctx, key, ChannelHandlers{
		OnMessage: func(m models.Message) {
			resolved := []models.Message{m}
			s.resolveAuthors(s.ctx, resolved)
			m = resolved[0]
			s.post(func() {
				if !s.current(gen, "insert") {
					return
				}
				if s.insert(m) {
					s.emit()
				}
			})
		},
		OnDelete: func(messageID uuid.UUID) {
			s.post(func() {
				if !s.current(gen, "delete") {
					return
				}
				if s.remove(messageID) {
					s.emit()
				}
			})
		},
		OnPresence: func(snapshot PresenceSnapshot) {
			s.post(func() {
				if !s.current(gen, "presence") {
					return
				}
				if s.tracker.OnRemoteSnapshot(snapshot) {
					s.emit()
				}
			})
		},
	})
}

func (s *Session) fetchHistory(ctx context.Context, gen uint64, key RoomKey) {
	msgs, err := s.store.FetchRecent(ctx, key, s.limit)
	if err == nil {
		s.resolveAuthors(ctx, msgs)
	}
	s.post(func() {
		if !s.current(gen, "history") {
			return
		}
		if s.fetchCancel != nil {
			s.fetchCancel()
			s.fetchCancel = nil
		}
		if err != nil {
			s.report(&StoreError{Op: "fetch_recent", Err: err})
			return
		}
		changed := false
		for _, m := range msgs {
			if s.insert(m) {
				changed = true
			}
		}
		if changed {
			s.emit()
		}
	})
}

// resolveAuthors fills AuthorName in place.
func (s *Session) resolveAuthors(ctx context.Context, msgs []models.Message) {
	var missing []uuid.UUID
	for i := range msgs {
		switch {
		case msgs[i].AuthorName != "":
		case msgs[i].AuthorID == s.identity.UserID && s.displayName() != "":
			msgs[i].AuthorName = s.displayName()
		default:
			missing = append(missing, msgs[i].AuthorID)
		}
	}
	if len(missing) == 0 {
		return
	}

	var names map[uuid.UUID]string
	if s.authors != nil {
		var err error
		names, err = s.authors.DisplayNames(ctx, missing)
		if err != nil {
			s.logger.Printf("author lookup failed count=%d err=%v", len(missing), err)
		}
	}
	for i := range msgs {
		if msgs[i].AuthorName != "" {
			continue
		}
		if name, ok := names[msgs[i].AuthorID]; ok && name != "" {
			msgs[i].AuthorName = name
		} else {
			msgs[i].AuthorName = UnknownAuthor
		}
	}
}

func (s *Session) current(gen uint64, what string) bool {
	if gen == s.generation && !s.closed {
		return true
	}
	observability.IncRealtimeDropped("stale")
	if s.dropped != nil {
		s.dropped(fmt.Errorf("%s: %w", what, ErrStaleResult))
	}
	return false
}

func (s *Session) insert(m models.Message) bool {
	if !s.hasRoom || Private(m.RoomID) != s.key {
		return false
	}
	if _, ok := s.index[m.ID]; ok {
		return false
	}
	i := sort.Search(len(s.messages), func(i int) bool { return m.Before(s.messages[i]) })
	s.messages = slices.Insert(s.messages, i, m)
	s.index[m.ID] = struct{}{}
	return true
}

func (s *Session) remove(messageID uuid.UUID) bool {
	if _, ok := s.index[messageID]; !ok {
		return false
	}
	delete(s.index, messageID)
	s.messages = slices.DeleteFunc(s.messages, func(m models.Message) bool { return m.ID == messageID })
	return true
}

func (s *Session) publishTyping(typing bool) {
	ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
	defer cancel()
	if err := s.channel.Track(ctx, typing); err != nil && !errors.Is(err, ErrChannelNotOpen) {
		s.logger.Printf("presence publish failed room=%s typing=%t err=%v", s.key, typing, err)
	}
}

func (s *Session) scheduleRetry(gen uint64, key RoomKey) {
	if s.retry == nil {
		s.retry = s.newBackOff()
		s.retry.Reset()
	}
	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		s.retry = nil
		s.report(&SubscriptionError{Channel: key.ChannelName(ChannelMessages), Err: errors.New("retries exhausted")})
		return
	}
	s.retryTimer = s.sched.AfterFunc(delay, func() {
		if !s.current(gen, "retry") {
			return
		}
		s.retryTimer = nil
		if err := s.openChannel(s.ctx, gen, key); err != nil {
			s.logger.Printf("subscribe retry failed room=%s err=%v", key, err)
			s.scheduleRetry(gen, key)
			return
		}
		s.logger.Printf("subscribe recovered room=%s", key)
		s.retry = nil
		s.degraded = false
		s.emit()
	})
}

func (s *Session) cancelRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retry = nil
}

func (s *Session) report(err error) {
	s.logger.Printf("session error room=%s err=%v", s.key, err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) emit() {
	if s.onChange != nil {
		s.onChange(s.snapshot())
	}
}

func (s *Session) snapshot() View {
	names := s.tracker.TypingDisplayNames()
	return View{
		Room:       s.key,
		Messages:   slices.Clone(s.messages),
		Typing:     names,
		TypingText: RenderTyping(names),
		Degraded:   s.degraded,
		Closed:     s.closed,
	}
}
