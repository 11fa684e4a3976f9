package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/randdistri/internal/backend"
	"github.com/angeloszaimis/randdistri/internal/errs"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/router"
	"github.com/angeloszaimis/randdistri/internal/stats"
	"github.com/angeloszaimis/randdistri/internal/strategy"
)

type fakeWorker struct {
	id     string
	hits   atomic.Int32
	status atomic.Int32
	delay  atomic.Int64
	server *httptest.Server
}

func newFakeWorker(id string) *fakeWorker {
	w := &fakeWorker{id: id}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.hits.Add(1)
		if d := time.Duration(w.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		if code := int(w.status.Load()); code != 0 {
			rw.WriteHeader(code)
			_, _ = rw.Write([]byte(`{"error":"forced"}`))
			return
		}
		lo, hi := int64(1), int64(100)
		if v := r.URL.Query().Get("min"); v != "" {
			lo, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := r.URL.Query().Get("max"); v != "" {
			hi, _ = strconv.ParseInt(v, 10, 64)
		}
		if lo >= hi {
			rw.WriteHeader(http.StatusBadRequest)
			_, _ = rw.Write([]byte(`{"error":"min must be less than max"}`))
			return
		}
		_ = json.NewEncoder(rw).Encode(backend.Generation{
			Number:     lo,
			FromServer: w.id,
			Timestamp:  1700000000.5,
		})
	}))
	return w
}

func (w *fakeWorker) url() *url.URL {
	u, err := url.Parse(w.server.URL)
	Expect(err).NotTo(HaveOccurred())
	return u
}

var _ = Describe("Router", func() {
	var (
		reg     *registry.Registry
		agg     *stats.Aggregator
		workers map[string]*fakeWorker
		r       *router.Router
		ctx     context.Context
		log     *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		reg = registry.New()
		agg = stats.NewAggregator(100)
		workers = map[string]*fakeWorker{}

		for _, s := range []struct {
			id     string
			weight int
		}{{"Server1", 60}, {"Server2", 30}, {"Server3", 10}} {
			w := newFakeWorker(s.id)
			DeferCleanup(w.server.Close)
			workers[s.id] = w
			Expect(reg.Add(s.id, w.url(), s.weight)).To(Succeed())
			Expect(reg.SetState(s.id, true, true)).To(Succeed())
		}

		r = router.New(reg, strategy.NewWeightedRandomStrategy(), backend.NewClient(), agg, log)
	})

	It("should return the backend's number with routing details", func() {
		res, err := r.Route(ctx, url.Values{"min": {"7"}, "max": {"9"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Number).To(Equal(int64(7)))
		Expect(workers).To(HaveKey(res.FromServer))
		Expect(res.RequestTo).To(Equal(workers[res.FromServer].server.URL))
		Expect(res.Timestamp).To(Equal(1700000000.5))
		Expect(res.RequestID).NotTo(BeEmpty())

		snap := agg.Snapshot(0)
		Expect(snap.TotalRequests).To(Equal(int64(1)))
		Expect(snap.Counters[res.FromServer]).To(Equal(int64(1)))
		Expect(snap.Log).To(HaveLen(1))
		Expect(snap.Log[0].Seq).To(Equal(res.Seq))
	})

	It("should never select an unhealthy backend", func() {
		_, err := reg.SetHealthy("Server1", false)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 100; i++ {
			res, err := r.Route(ctx, url.Values{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.FromServer).NotTo(Equal("Server1"))
		}
		Expect(workers["Server1"].hits.Load()).To(BeZero())
	})

	It("should send nothing to a stopped backend", func() {
		Expect(reg.SetState("Server2", false, false)).To(Succeed())

		for i := 0; i < 100; i++ {
			_, err := r.Route(ctx, url.Values{})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(workers["Server2"].hits.Load()).To(BeZero())
		Expect(agg.Count("Server2")).To(BeZero())
	})

	It("should report no healthy backend", func() {
		for id := range workers {
			_, err := reg.SetHealthy(id, false)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := r.Route(ctx, url.Values{})
		Expect(errors.Is(err, errs.ErrNoHealthyBackend)).To(BeTrue())
		Expect(errs.HTTPStatus(errs.KindOf(err))).To(Equal(http.StatusServiceUnavailable))
	})

	It("should evict a backend whose forward fails", func() {
		for id, w := range workers {
			if id != "Server3" {
				_, err := reg.SetHealthy(id, false)
				Expect(err).NotTo(HaveOccurred())
			}
			w.status.Store(http.StatusInternalServerError)
		}

		_, err := r.Route(ctx, url.Values{})
		Expect(errs.KindOf(err)).To(Equal(errs.KindBackendError))
		Expect(errs.ServerOf(err)).To(Equal("Server3"))

		srv, _ := reg.Get("Server3")
		Expect(srv.Healthy).To(BeFalse())
		Expect(srv.Running).To(BeTrue())

		snap := agg.Snapshot(0)
		Expect(snap.TotalRequests).To(BeZero())
		Expect(snap.Log).To(HaveLen(1))
		Expect(snap.Log[0].Failed()).To(BeTrue())
		Expect(snap.Log[0].Server).To(Equal("Server3"))

		_, err = r.Route(ctx, url.Values{})
		Expect(errors.Is(err, errs.ErrNoHealthyBackend)).To(BeTrue())
	})

	It("should report a timeout when the backend is too slow", func() {
		slow := newFakeWorker("Slow")
		slow.delay.Store(int64(300 * time.Millisecond))
		DeferCleanup(slow.server.Close)

		reg = registry.New()
		Expect(reg.Add("Slow", slow.url(), 1)).To(Succeed())
		Expect(reg.SetState("Slow", true, true)).To(Succeed())
		r = router.New(reg, strategy.NewWeightedRandomStrategy(), backend.NewClient(), agg, log,
			router.WithForwardTimeout(50*time.Millisecond))

		_, err := r.Route(ctx, url.Values{})
		Expect(errs.KindOf(err)).To(Equal(errs.KindBackendTimeout))

		srv, _ := reg.Get("Slow")
		Expect(srv.Healthy).To(BeFalse())
	})

	It("should reject non-integer bounds before forwarding", func() {
		_, err := r.Route(ctx, url.Values{"min": {"abc"}})
		Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())

		_, err = r.Route(ctx, url.Values{"max": {""}})
		Expect(errors.Is(err, errs.ErrInvalidParameter)).To(BeTrue())

		for _, w := range workers {
			Expect(w.hits.Load()).To(BeZero())
		}
	})

	It("should forward an inverted range and surface the backend's rejection", func() {
		_, err := r.Route(ctx, url.Values{"min": {"10"}, "max": {"5"}})
		Expect(errs.KindOf(err)).To(Equal(errs.KindBackendError))

		var statusErr *backend.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.Code).To(Equal(http.StatusBadRequest))
	})

	It("should not evict when the caller cancels", func() {
		for _, w := range workers {
			w.delay.Store(int64(200 * time.Millisecond))
		}
		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := r.Route(cctx, url.Values{})
		Expect(err).To(HaveOccurred())

		for _, s := range reg.List() {
			Expect(s.Healthy).To(BeTrue())
		}
	})
})
