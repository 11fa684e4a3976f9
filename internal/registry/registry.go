package registry

import (
	"fmt"
	"math"
	"net/url"
	"sync"

	"github.com/angeloszaimis/randdistri/internal/errs"
)

// Server is a point-in-time copy of a backend descriptor.
type Server struct {
	ID       string
	Endpoint *url.URL
	Weight   int
	Healthy  bool
	Running  bool
}

// MaxWeight bounds a single weight so the sum over all candidates cannot overflow.
const MaxWeight = math.MaxInt32

var weightRangeMsg = fmt.Sprintf("weight must be between 0 and %d", MaxWeight)

// EffectiveWeight is the selection weight of an admitted candidate.
// A zero weight still gets the minimum share of one.
func (s Server) EffectiveWeight() int {
	if s.Weight < 1 {
		return 1
	}
	return s.Weight
}

type descriptor struct {
	id       string
	endpoint *url.URL
	weight   int
	healthy  bool
	running  bool
}

func (d *descriptor) snapshot() Server {
	u := *d.endpoint
	return Server{
		ID:       d.id,
		Endpoint: &u,
		Weight:   d.weight,
		Healthy:  d.healthy,
		Running:  d.running,
	}
}

// Registry serializes every mutation behind one RWMutex and hands out copies.
type Registry struct {
	mutex   sync.RWMutex
	order   []string
	servers map[string]*descriptor
}

func New() *Registry {
	return &Registry{
		servers: make(map[string]*descriptor),
	}
}

// Add registers a backend as running and healthy. Callers that manage the
// process correct the state once they know better.
func (r *Registry) Add(id string, endpoint *url.URL, weight int) error {
	if id == "" {
		return errs.Invalid("server id cannot be empty")
	}
	if endpoint == nil {
		return errs.Invalid("server endpoint cannot be empty")
	}
	if weight < 0 || weight > MaxWeight {
		return errs.Invalid(weightRangeMsg)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.servers[id]; exists {
		return errs.New(errs.KindInvalidParameter, id, "duplicate server id")
	}

	u := *endpoint
	r.servers[id] = &descriptor{
		id:       id,
		endpoint: &u,
		weight:   weight,
		healthy:  true,
		running:  true,
	}
	r.order = append(r.order, id)
	return nil
}

// Remove drops a backend. Stats and log entries that mention it stay as history.
func (r *Registry) Remove(id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.servers[id]; !exists {
		return errs.NotFound(id)
	}

	delete(r.servers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns every backend in insertion order.
func (r *Registry) List() []Server {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	servers := make([]Server, 0, len(r.order))
	for _, id := range r.order {
		servers = append(servers, r.servers[id].snapshot())
	}
	return servers
}

func (r *Registry) Get(id string) (Server, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	d, exists := r.servers[id]
	if !exists {
		return Server{}, errs.NotFound(id)
	}
	return d.snapshot(), nil
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.order)
}

// SetWeight updates the weight and returns the previous one.
// An out-of-range weight is rejected and leaves the old value in place.
func (r *Registry) SetWeight(id string, weight int) (old int, err error) {
	if weight < 0 || weight > MaxWeight {
		return 0, errs.New(errs.KindInvalidParameter, id, weightRangeMsg)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return 0, errs.NotFound(id)
	}

	old = d.weight
	d.weight = weight
	return old, nil
}

// SetHealthy updates the health flag.
// Returns true if the status changed, false if it was already in that state.
func (r *Registry) SetHealthy(id string, healthy bool) (changed bool, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return false, errs.NotFound(id)
	}
	if d.healthy == healthy {
		return false, nil
	}
	d.healthy = healthy
	return true, nil
}

// ReportProbe records a health probe result and returns the health value
// now in place. A server that is not running stays unhealthy whatever the
// probe says.
func (r *Registry) ReportProbe(id string, ok bool) (healthy, changed bool, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return false, false, errs.NotFound(id)
	}
	healthy = ok && d.running
	if d.healthy == healthy {
		return healthy, false, nil
	}
	d.healthy = healthy
	return healthy, true, nil
}

// SetRunning updates the running flag. Same change semantics as SetHealthy.
func (r *Registry) SetRunning(id string, running bool) (changed bool, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return false, errs.NotFound(id)
	}
	if d.running == running {
		return false, nil
	}
	d.running = running
	return true, nil
}

// SetState sets running and healthy in one step so no reader sees half of it.
func (r *Registry) SetState(id string, running, healthy bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return errs.NotFound(id)
	}
	d.running = running
	d.healthy = healthy
	return nil
}

// ToggleHealthy flips the health flag and returns the new value.
func (r *Registry) ToggleHealthy(id string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	d, exists := r.servers[id]
	if !exists {
		return false, errs.NotFound(id)
	}
	d.healthy = !d.healthy
	return d.healthy, nil
}
