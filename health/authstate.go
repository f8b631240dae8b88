package health

import (
	"sync"
)

// AuthState is an observable boolean telling whether every permission the
// configuration requires has been granted.
type AuthState struct {
	mu          sync.Mutex
	value       bool
	subscribers map[chan bool]struct{}
}

func newAuthState() *AuthState {
	return &AuthState{subscribers: make(map[chan bool]struct{})}
}

func (a *AuthState) Get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Subscribe returns a channel that immediately holds the current value and
// then receives every change. Slow subscribers only see the latest value.
func (a *AuthState) Subscribe() chan bool {
	ch := make(chan bool, 1)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	ch <- a.value
	a.mu.Unlock()
	return ch
}

func (a *AuthState) Unsubscribe(ch chan bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subscribers[ch]; !ok {
		return
	}
	delete(a.subscribers, ch)
	close(ch)
}

func (a *AuthState) set(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.value == v {
		return
	}
	a.value = v

	for ch := range a.subscribers {
		// drop a stale pending value so the latest one always fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
