package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/randdistri/internal/backend"
	"github.com/angeloszaimis/randdistri/internal/control"
	"github.com/angeloszaimis/randdistri/internal/failover"
	"github.com/angeloszaimis/randdistri/internal/handler"
	"github.com/angeloszaimis/randdistri/internal/registry"
	"github.com/angeloszaimis/randdistri/internal/router"
	"github.com/angeloszaimis/randdistri/internal/stats"
	"github.com/angeloszaimis/randdistri/internal/strategy"
	"github.com/angeloszaimis/randdistri/internal/supervisor"
)

var _ = Describe("Handler", func() {
	var (
		reg     *registry.Registry
		sim     *failover.Simulator
		routes  http.Handler
		workers []*httptest.Server
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		reg = registry.New()
		workers = nil

		for _, id := range []string{"Server1", "Server2"} {
			worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.URL.Query().Get("min") == "9" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"min must be less than max"}`))
					return
				}
				_, _ = w.Write([]byte(`{"number":42,"from_server":"` + id + `","timestamp":1.5,"latency_ms":50}`))
			}))
			workers = append(workers, worker)
			u, err := url.Parse(worker.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Add(id, u, 50)).To(Succeed())
			Expect(reg.SetState(id, true, true)).To(Succeed())
		}

		agg := stats.NewAggregator(100)
		sup := supervisor.NewDetached("Server1", "Server2")
		guard := supervisor.NewGuard()
		sim = failover.NewSimulator(reg, sup, guard, log)
		rt := router.New(reg, strategy.NewWeightedRandomStrategy(), backend.NewClient(), agg, log)
		ctl := control.New(reg, agg, sup, sim, guard, log, control.WithRestartSettle(0))

		metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})
		routes = handler.New(log, rt, ctl, handler.WithMetricsHandler(metricsHandler)).Routes()
	})

	AfterEach(func() {
		sim.Close()
		for _, w := range workers {
			w.Close()
		}
	})

	do := func(method, target string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(method, target, nil)
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)

		body := map[string]any{}
		if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		}
		return rec, body
	}

	Describe("GET /generate", func() {
		It("should return the number with routing details", func() {
			rec, body := do(http.MethodGet, "/generate?min=1&max=100")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["number"]).To(BeEquivalentTo(42))
			Expect(body["from_server"]).To(BeElementOf("Server1", "Server2"))
			Expect(body["request_to"]).To(HavePrefix("http://127.0.0.1:"))
			Expect(body["request_id"]).NotTo(BeEmpty())
		})

		It("should answer 400 for non-integer bounds", func() {
			rec, body := do(http.MethodGet, "/generate?min=x")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["kind"]).To(Equal("InvalidParameter"))
		})

		It("should answer 500 naming the backend when it rejects the range", func() {
			rec, body := do(http.MethodGet, "/generate?min=9&max=3")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(body["kind"]).To(Equal("BackendError"))
			Expect(body["server"]).To(BeElementOf("Server1", "Server2"))
		})

		It("should answer 503 when nothing is healthy", func() {
			for _, s := range reg.List() {
				_, err := reg.SetHealthy(s.ID, false)
				Expect(err).NotTo(HaveOccurred())
			}
			rec, body := do(http.MethodGet, "/generate")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(body["kind"]).To(Equal("NoHealthyBackend"))
		})
	})

	Describe("GET /set_weight", func() {
		It("should change the weight", func() {
			rec, body := do(http.MethodGet, "/set_weight?server=Server1&weight=70")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["old_weight"]).To(BeEquivalentTo(50))
			Expect(body["new_weight"]).To(BeEquivalentTo(70))
		})

		It("should reject a negative weight", func() {
			rec, _ := do(http.MethodGet, "/set_weight?server=Server1&weight=-5")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			srv, _ := reg.Get("Server1")
			Expect(srv.Weight).To(Equal(50))
		})

		It("should reject a missing weight", func() {
			rec, _ := do(http.MethodGet, "/set_weight?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject a weight above the maximum and keep serving", func() {
			rec, body := do(http.MethodGet, "/set_weight?server=Server1&weight=9223372036854775807")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["kind"]).To(Equal("InvalidParameter"))

			rec, _ = do(http.MethodGet, fmt.Sprintf("/set_weight?server=Server2&weight=%d", registry.MaxWeight))
			Expect(rec.Code).To(Equal(http.StatusOK))

			for i := 0; i < 20; i++ {
				rec, _ = do(http.MethodGet, "/generate")
				Expect(rec.Code).To(Equal(http.StatusOK))
			}
		})

		It("should answer 404 for an unknown server", func() {
			rec, body := do(http.MethodGet, "/set_weight?server=Nope&weight=5")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(body["server"]).To(Equal("Nope"))
		})
	})

	Describe("lifecycle routes", func() {
		It("should stop and start through both route names", func() {
			rec, _ := do(http.MethodGet, "/stop?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec, body := do(http.MethodGet, "/stop_server?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["kind"]).To(Equal("NotRunning"))

			rec, _ = do(http.MethodGet, "/start_server?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec, body = do(http.MethodGet, "/start?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["kind"]).To(Equal("AlreadyRunning"))
		})

		It("should require a server", func() {
			rec, _ := do(http.MethodGet, "/start")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		DescribeTable("unknown server",
			func(target string) {
				rec, body := do(http.MethodGet, target)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(body["kind"]).To(Equal("ServerNotFound"))
				Expect(body["server"]).To(Equal("Nope"))
			},
			Entry("start", "/start?server=Nope"),
			Entry("start_server", "/start_server?server=Nope"),
			Entry("stop", "/stop?server=Nope"),
			Entry("stop_server", "/stop_server?server=Nope"),
			Entry("simulate_failure", "/simulate_failure?server=Nope&seconds=5"),
		)

		It("should keep 404 for an unknown server on toggle_server", func() {
			rec, _ := do(http.MethodGet, "/toggle_server?server=Nope")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should route nothing to a stopped server", func() {
			rec, _ := do(http.MethodGet, "/stop?server=Server2")
			Expect(rec.Code).To(Equal(http.StatusOK))

			for i := 0; i < 100; i++ {
				rec, body := do(http.MethodGet, "/generate")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(body["from_server"]).To(Equal("Server1"))
			}
		})

		It("should toggle health", func() {
			rec, body := do(http.MethodGet, "/toggle_server?server=Server2")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["new_status"]).To(Equal("OFF"))
		})

		It("should restart all servers", func() {
			rec, body := do(http.MethodGet, "/restart_all")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["results"]).To(HaveLen(2))
		})
	})

	Describe("GET /simulate_failure", func() {
		It("should take the server down with the default duration", func() {
			rec, body := do(http.MethodGet, "/simulate_failure?server=Server1")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["seconds"]).To(BeEquivalentTo(10))

			_, status := do(http.MethodGet, "/api/status")
			servers := status["servers"].([]any)
			first := servers[0].(map[string]any)
			Expect(first["status"]).To(Equal("OFF"))
			Expect(first["failure_in"]).To(BeNumerically(">", 0))
		})

		It("should reject bad seconds", func() {
			rec, _ := do(http.MethodGet, "/simulate_failure?server=Server1&seconds=abc")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))

			rec, _ = do(http.MethodGet, "/simulate_failure?server=Server1&seconds=0")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("stats routes", func() {
		BeforeEach(func() {
			for i := 0; i < 3; i++ {
				rec, _ := do(http.MethodGet, "/generate")
				Expect(rec.Code).To(Equal(http.StatusOK))
			}
		})

		It("should report totals and the log", func() {
			rec, body := do(http.MethodGet, "/api/status")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["total_requests"]).To(BeEquivalentTo(3))
			Expect(body["generation_log"]).To(HaveLen(3))
		})

		It("should clear the log but keep the counters", func() {
			rec, _ := do(http.MethodPost, "/api/clear_log")
			Expect(rec.Code).To(Equal(http.StatusOK))

			_, body := do(http.MethodGet, "/api/status")
			Expect(body["total_requests"]).To(BeEquivalentTo(3))
			Expect(body["generation_log"]).To(BeEmpty())
		})

		It("should reset counters", func() {
			rec, _ := do(http.MethodPost, "/api/reset_stats")
			Expect(rec.Code).To(Equal(http.StatusOK))

			_, body := do(http.MethodGet, "/api/status")
			Expect(body["total_requests"]).To(BeEquivalentTo(0))
		})

		It("should refuse GET on clear_log", func() {
			rec, _ := do(http.MethodGet, "/api/clear_log")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	It("should answer liveness and metrics", func() {
		rec, body := do(http.MethodGet, "/health")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(body["status"]).To(Equal("healthy"))

		rec, _ = do(http.MethodGet, "/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("# metrics"))
	})
})
