package supervisor

import (
	"context"
	"sync"

	"github.com/angeloszaimis/randdistri/internal/errs"
)

type Supervisor interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Alive(id string) bool
}

// Detached tracks start/stop requests without spawning anything.
type Detached struct {
	mutex   sync.Mutex
	started map[string]bool
}

// NewDetached marks ids as already started, for workers launched out of band.
func NewDetached(ids ...string) *Detached {
	d := &Detached{started: make(map[string]bool, len(ids))}
	for _, id := range ids {
		d.started[id] = true
	}
	return d
}

func (d *Detached) Start(_ context.Context, id string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.started[id] {
		return errs.New(errs.KindAlreadyRunning, id, "already running")
	}
	d.started[id] = true
	return nil
}

func (d *Detached) Stop(_ context.Context, id string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.started[id] {
		return errs.New(errs.KindNotRunning, id, "not running")
	}
	delete(d.started, id)
	return nil
}

func (d *Detached) Alive(id string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.started[id]
}
