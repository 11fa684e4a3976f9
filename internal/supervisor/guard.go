package supervisor

import "sync"

// Guard serializes lifecycle transitions per server id. Transitions on
// different servers proceed independently.
type Guard struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (g *Guard) Lock(id string) func() {
	g.mutex.Lock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	g.mutex.Unlock()

	l.Lock()
	return l.Unlock
}
