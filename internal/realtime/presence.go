package realtime

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// DefaultTypingExpiry is how long a local typing signal lasts without a new keystroke.
const DefaultTypingExpiry = 2 * time.Second

// PresenceTracker holds the typing state of one room for the local participant.
// It is not safe for concurrent use; the owning session serializes access.
type PresenceTracker struct {
	participant string
	displayName string
	sched       Scheduler
	expiry      time.Duration
	publish     func(typing bool)

	generation uint64
	timer      Timer
	local      bool
	others     PresenceSnapshot
	names      []string
}

// NewPresenceTracker builds a tracker. publish is called whenever the local
// typing flag changes.
func NewPresenceTracker(participant, displayName string, sched Scheduler, expiry time.Duration, publish func(typing bool)) *PresenceTracker {
	if sched == nil {
		sched = clockScheduler{}
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &PresenceTracker{
		participant: participant,
		displayName: displayName,
		sched:       sched,
		expiry:      expiry,
		publish:     publish,
	}
}

// SetLocalTyping records the local intent. Every call supersedes earlier
// expiry timers; a true call arms a new one.
func (t *PresenceTracker) SetLocalTyping(active bool) {
	t.generation++
	t.stopTimer()
	if active {
		gen := t.generation
		t.timer = t.sched.AfterFunc(t.expiry, func() {
			if gen != t.generation {
				return
			}
			t.timer = nil
			t.SetLocalTyping(false)
		})
	}

	if t.local == active {
		return
	}
	t.local = active
	if t.publish != nil {
		t.publish(active)
	}
}

// SetDisplayName changes the name used to match the local user in remote
// snapshots. The current snapshot is filtered again on the next update.
func (t *PresenceTracker) SetDisplayName(name string) {
	t.displayName = name
}

// LocalTyping reports the last local intent.
func (t *PresenceTracker) LocalTyping() bool {
	return t.local
}

// OnRemoteSnapshot replaces the known state of other participants and
// reports whether the visible typing list changed.
func (t *PresenceTracker) OnRemoteSnapshot(snapshot PresenceSnapshot) bool {
	others := make(PresenceSnapshot, len(snapshot))
	for participant, state := range snapshot {
		if participant == t.participant || state.DisplayName == t.displayName {
			continue
		}
		others[participant] = state
	}
	t.others = others

	names := typingNames(others)
	if slices.Equal(names, t.names) {
		return false
	}
	t.names = names
	return true
}

// TypingDisplayNames returns the sorted names of other participants currently typing.
func (t *PresenceTracker) TypingDisplayNames() []string {
	return slices.Clone(t.names)
}

// Reset cancels the expiry timer and forgets all state.
func (t *PresenceTracker) Reset() {
	t.generation++
	t.stopTimer()
	t.local = false
	t.others = nil
	t.names = nil
}

func (t *PresenceTracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func typingNames(states PresenceSnapshot) []string {
	seen := make(map[string]struct{}, len(states))
	var names []string
	for _, state := range states {
		if !state.Typing || state.DisplayName == "" {
			continue
		}
		if _, ok := seen[state.DisplayName]; ok {
			continue
		}
		seen[state.DisplayName] = struct{}{}
		names = append(names, state.DisplayName)
	}
	sort.Strings(names)
	return names
}

// RenderTyping formats the typing indicator line.
func RenderTyping(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%d people are typing...", len(names))
	}
}
