package review

import "time"

// Subscription wakes a listener whenever the session changes and queues the element commands
// addressed to its browser.
type Subscription struct {
	s *Session
	c chan struct{}

	// pending is guarded by the session's subMu.
	pending []Command
}

// C is signalled after every change and closed when the session ends.
func (sub *Subscription) C() <-chan struct{} {
	return sub.c
}

// Commands drains the queued element commands.
func (sub *Subscription) Commands() []Command {
	sub.s.subMu.Lock()
	defer sub.s.subMu.Unlock()
	out := sub.pending
	sub.pending = nil
	return out
}

func (sub *Subscription) Close() {
	sub.s.subMu.Lock()
	defer sub.s.subMu.Unlock()
	if _, ok := sub.s.subs[sub]; ok {
		delete(sub.s.subs, sub)
		close(sub.c)
		sub.s.lastActive = sub.s.clock.Now()
	}
}

func (s *Session) Subscribe() *Subscription {
	sub := &Subscription{s: s, c: make(chan struct{}, 1)}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	select {
	case <-s.done:
		close(sub.c)
		return sub
	default:
	}
	s.subs[sub] = struct{}{}
	sub.c <- struct{}{}
	return sub
}

func (s *Session) emit(cmd Command) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.pending = append(sub.pending, cmd)
		signal(sub.c)
	}
}

func (s *Session) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		signal(sub.c)
	}
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// touch marks the session as in use.
func (s *Session) touch() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.lastActive = s.clock.Now()
}

// idleFor is how long the session has had neither a subscriber nor a request. A session with
// a subscriber is never idle.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if len(s.subs) > 0 {
		return 0
	}
	return now.Sub(s.lastActive)
}
