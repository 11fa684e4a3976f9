package worker

import (
	"encoding/json"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/angeloszaimis/randdistri/internal/backend"
)

const DefaultLatency = 50 * time.Millisecond

// Range is an inclusive interval of integers.
type Range struct {
	Min int64
	Max int64
}

var (
	DefaultRanges = map[string]Range{
		"Server1": {Min: 1, Max: 50},
		"Server2": {Min: 40, Max: 80},
		"Server3": {Min: 70, Max: 100},
	}
	FallbackRange = Range{Min: 1, Max: 100}
)

// RangeFor returns the default range configured for id.
func RangeFor(id string) Range {
	if r, ok := DefaultRanges[id]; ok {
		return r
	}
	return FallbackRange
}

type Worker struct {
	id      string
	rng     Range
	latency time.Duration
	logger  *slog.Logger

	mutex sync.Mutex
	rand  *rand.Rand
}

type Option func(*Worker)

func WithRange(r Range) Option {
	return func(w *Worker) { w.rng = r }
}

func WithLatency(d time.Duration) Option {
	return func(w *Worker) { w.latency = d }
}

func WithSource(src rand.Source) Option {
	return func(w *Worker) { w.rand = rand.New(src) }
}

func New(id string, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		id:      id,
		rng:     RangeFor(id),
		latency: DefaultLatency,
		logger:  logger.With(slog.String("server", id)),
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+backend.DefaultGeneratePath, w.generate)
	mux.HandleFunc("GET "+backend.DefaultHealthPath, w.health)
	return mux
}

func (w *Worker) generate(rw http.ResponseWriter, r *http.Request) {
	if w.latency > 0 {
		select {
		case <-time.After(w.latency):
		case <-r.Context().Done():
			return
		}
	}

	bounds, ok := w.bounds(r)
	if !ok {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "min must be less than max"})
		return
	}

	n := w.draw(bounds)
	w.logger.Debug("Generated number",
		slog.Int64("number", n),
		slog.Int64("min", bounds.Min),
		slog.Int64("max", bounds.Max))

	writeJSON(rw, http.StatusOK, backend.Generation{
		Number:     n,
		FromServer: w.id,
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		LatencyMS:  int(w.latency / time.Millisecond),
	})
}

// bounds reads min and max from the query. Unparseable values fall back to
// the worker's default range as a pair.
func (w *Worker) bounds(r *http.Request) (Range, bool) {
	q := r.URL.Query()
	out := w.rng

	if v := q.Get("min"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return w.rng, w.rng.Min < w.rng.Max
		}
		out.Min = n
	}
	if v := q.Get("max"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return w.rng, w.rng.Min < w.rng.Max
		}
		out.Max = n
	}
	return out, out.Min < out.Max
}

// draw works on the unsigned span so ranges wider than MaxInt64 stay valid.
// Requires b.Min < b.Max.
func (w *Worker) draw(b Range) int64 {
	span := uint64(b.Max) - uint64(b.Min)

	w.mutex.Lock()
	defer w.mutex.Unlock()

	var offset uint64
	if span == math.MaxUint64 {
		offset = w.rand.Uint64()
	} else {
		offset = w.rand.Uint64N(span + 1)
	}
	return int64(uint64(b.Min) + offset)
}

func (w *Worker) health(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
