package loadgen_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/randdistri/internal/loadgen"
)

func ptr(v int64) *int64 { return &v }

var _ = Describe("Runner", func() {
	var (
		server  *httptest.Server
		calls   atomic.Int32
		mutex   sync.Mutex
		lastMin string
		lastMax string
	)

	BeforeEach(func() {
		calls.Store(0)
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			mutex.Lock()
			lastMin, lastMax = r.URL.Query().Get("min"), r.URL.Query().Get("max")
			mutex.Unlock()

			w.Header().Set("Content-Type", "application/json")
			switch {
			case n%10 == 0:
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"no healthy backend available","kind":"NoHealthyBackend"}`))
			case n%2 == 0:
				_, _ = w.Write([]byte(`{"number":5,"from_server":"Server2","request_to":"http://127.0.0.1:5002"}`))
			default:
				_, _ = w.Write([]byte(`{"number":3,"from_server":"Server1","request_to":"http://127.0.0.1:5001"}`))
			}
		}))
		DeferCleanup(server.Close)
	})

	It("should send every request and tally servers", func() {
		runner, err := loadgen.NewRunner(loadgen.Config{
			Target:      server.URL + "/generate",
			Requests:    100,
			Concurrency: 8,
			Min:         ptr(1),
			Max:         ptr(10),
		})
		Expect(err).NotTo(HaveOccurred())

		var seen atomic.Int32
		runner.OnOutcome = func(loadgen.Outcome) { seen.Add(1) }

		summary, err := runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(Equal(int32(100)))
		Expect(seen.Load()).To(Equal(int32(100)))

		Expect(summary.Requests).To(Equal(100))
		Expect(summary.Failure).To(Equal(10))
		Expect(summary.Success).To(Equal(90))
		Expect(summary.Distribution["Server1"]).To(Equal(50))
		Expect(summary.Distribution["Server2"]).To(Equal(40))
		Expect(summary.StatusCodes[http.StatusServiceUnavailable]).To(Equal(10))
		Expect(summary.Share("Server1")).To(BeNumerically("~", 50.0/90.0, 0.001))

		mutex.Lock()
		defer mutex.Unlock()
		Expect(lastMin).To(Equal("1"))
		Expect(lastMax).To(Equal("10"))
	})

	It("should print a per-server summary", func() {
		runner, err := loadgen.NewRunner(loadgen.Config{Target: server.URL, Requests: 4})
		Expect(err).NotTo(HaveOccurred())

		summary, err := runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		var buf bytes.Buffer
		summary.Print(&buf)
		Expect(buf.String()).To(ContainSubstring("Server1"))
		Expect(buf.String()).To(ContainSubstring("Server2"))
		Expect(buf.String()).To(ContainSubstring("4 requests"))
	})

	It("should count connection failures", func() {
		runner, err := loadgen.NewRunner(loadgen.Config{Target: "http://127.0.0.1:1/generate", Requests: 3})
		Expect(err).NotTo(HaveOccurred())

		summary, err := runner.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Failure).To(Equal(3))
		Expect(summary.Distribution).To(BeEmpty())
	})

	DescribeTable("should reject bad configs",
		func(cfg loadgen.Config) {
			_, err := loadgen.NewRunner(cfg)
			Expect(err).To(HaveOccurred())
		},
		Entry("no requests", loadgen.Config{Target: "http://x", Requests: 0}),
		Entry("inverted range", loadgen.Config{Target: "http://x", Requests: 1, Min: ptr(5), Max: ptr(5)}),
	)
})
