package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Target      string
	Requests    int
	Concurrency int
	Min         *int64
	Max         *int64
	// Pause between requests of one goroutine.
	Pause   time.Duration
	Timeout time.Duration
}

// Outcome is the result of one generate call as seen by the client.
type Outcome struct {
	Index      int           `json:"index"`
	Status     int           `json:"status"`
	Number     int64         `json:"number"`
	FromServer string        `json:"from_server,omitempty"`
	RequestTo  string        `json:"request_to,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (o Outcome) OK() bool {
	return o.Error == "" && o.Status >= 200 && o.Status < 300
}

type Summary struct {
	Target       string         `json:"target"`
	Requests     int            `json:"requests"`
	Success      int            `json:"success"`
	Failure      int            `json:"failure"`
	Distribution map[string]int `json:"distribution"`
	StatusCodes  map[int]int    `json:"status_codes"`
	Elapsed      time.Duration  `json:"elapsed"`
	P50          time.Duration  `json:"p50"`
	P90          time.Duration  `json:"p90"`
	P99          time.Duration  `json:"p99"`
}

// Share returns the fraction of successful answers that came from server.
func (s Summary) Share(server string) float64 {
	if s.Success == 0 {
		return 0
	}
	return float64(s.Distribution[server]) / float64(s.Success)
}

func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Done: %d requests, %d ok, %d failed in %v\n", s.Requests, s.Success, s.Failure, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Latency p50=%v p90=%v p99=%v\n", s.P50, s.P90, s.P99)
	fmt.Fprintln(w, "Server usage:")

	servers := lo.Keys(s.Distribution)
	slices.Sort(servers)
	for _, id := range servers {
		fmt.Fprintf(w, "  %-10s %6d  (%5.1f%%)\n", id, s.Distribution[id], 100*s.Share(id))
	}
}

type Runner struct {
	cfg    Config
	client *http.Client

	// OnOutcome is called once per request, never concurrently.
	OnOutcome func(Outcome)
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("requests must be positive, got %d", cfg.Requests)
	}
	if cfg.Min != nil && cfg.Max != nil && *cfg.Min >= *cfg.Max {
		return nil, fmt.Errorf("min must be less than max")
	}
	if _, err := url.Parse(cfg.Target); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (r *Runner) Run(ctx context.Context) (Summary, error) {
	target, err := r.targetURL()
	if err != nil {
		return Summary{}, err
	}

	var (
		mutex    sync.Mutex
		outcomes = make([]Outcome, 0, r.cfg.Requests)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	start := time.Now()
	for i := 0; i < r.cfg.Requests; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o := r.call(gctx, i, target)

			mutex.Lock()
			outcomes = append(outcomes, o)
			if r.OnOutcome != nil {
				r.OnOutcome(o)
			}
			mutex.Unlock()

			if r.cfg.Pause > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(r.cfg.Pause):
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return summarize(r.cfg.Target, outcomes, time.Since(start)), ctx.Err()
}

func (r *Runner) targetURL() (string, error) {
	u, err := url.Parse(r.cfg.Target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if r.cfg.Min != nil {
		q.Set("min", strconv.FormatInt(*r.cfg.Min, 10))
	}
	if r.cfg.Max != nil {
		q.Set("max", strconv.FormatInt(*r.cfg.Max, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Runner) call(ctx context.Context, idx int, target string) Outcome {
	o := Outcome{Index: idx}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		o.Error = err.Error()
		return o
	}

	res, err := r.client.Do(req)
	if err != nil {
		o.Error = err.Error()
		o.Duration = time.Since(start)
		return o
	}
	defer res.Body.Close()
	o.Status = res.StatusCode

	var body struct {
		Number     int64  `json:"number"`
		FromServer string `json:"from_server"`
		RequestTo  string `json:"request_to"`
		Error      string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		o.Error = fmt.Sprintf("decoding response: %v", err)
	} else {
		o.Number = body.Number
		o.FromServer = body.FromServer
		o.RequestTo = body.RequestTo
		o.Error = body.Error
	}
	if o.Error == "" && !o.OK() {
		o.Error = http.StatusText(res.StatusCode)
	}
	o.Duration = time.Since(start)
	return o
}

func summarize(target string, outcomes []Outcome, elapsed time.Duration) Summary {
	s := Summary{
		Target:       target,
		Requests:     len(outcomes),
		Distribution: map[string]int{},
		StatusCodes:  map[int]int{},
		Elapsed:      elapsed,
	}

	for _, o := range outcomes {
		if o.Status != 0 {
			s.StatusCodes[o.Status]++
		}
		if o.OK() {
			s.Success++
			s.Distribution[o.FromServer]++
		} else {
			s.Failure++
		}
	}

	latencies := lo.Map(outcomes, func(o Outcome, _ int) time.Duration { return o.Duration })
	slices.Sort(latencies)
	s.P50 = percentile(latencies, 0.50)
	s.P90 = percentile(latencies, 0.90)
	s.P99 = percentile(latencies, 0.99)

	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
