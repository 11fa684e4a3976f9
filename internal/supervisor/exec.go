package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cli/safeexec"
	"github.com/jpillora/backoff"

	"github.com/angeloszaimis/randdistri/internal/errs"
)

const (
	DefaultStopTimeout  = 3 * time.Second
	DefaultReadyTimeout = 5 * time.Second
)

type Prober interface {
	Probe(ctx context.Context, endpoint *url.URL) error
}

// EndpointFunc resolves the endpoint a server id is expected to listen on.
type EndpointFunc func(id string) (*url.URL, error)

type ExecConfig struct {
	Command      string
	Args         []string
	StopTimeout  time.Duration
	ReadyTimeout time.Duration
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type Exec struct {
	path      string
	args      []string
	stopWait  time.Duration
	readyWait time.Duration
	endpoint  EndpointFunc
	prober    Prober
	logger    *slog.Logger

	mutex     sync.Mutex
	processes map[string]*process
}

// NewExec resolves cfg.Command on PATH unless it already contains a separator.
func NewExec(cfg ExecConfig, endpoint EndpointFunc, prober Prober, logger *slog.Logger) (*Exec, error) {
	path := cfg.Command
	if !strings.ContainsRune(path, os.PathSeparator) {
		resolved, err := safeexec.LookPath(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("resolving worker command %q: %w", cfg.Command, err)
		}
		path = resolved
	}

	stopWait := cfg.StopTimeout
	if stopWait <= 0 {
		stopWait = DefaultStopTimeout
	}
	readyWait := cfg.ReadyTimeout
	if readyWait <= 0 {
		readyWait = DefaultReadyTimeout
	}

	return &Exec{
		path:      path,
		args:      cfg.Args,
		stopWait:  stopWait,
		readyWait: readyWait,
		endpoint:  endpoint,
		prober:    prober,
		logger:    logger.With(slog.String("component", "supervisor")),
		processes: make(map[string]*process),
	}, nil
}

// Start spawns the worker for id and blocks until it is healthy or the ready timeout passes.
func (e *Exec) Start(ctx context.Context, id string) error {
	endpoint, err := e.endpoint(id)
	if err != nil {
		return err
	}

	e.mutex.Lock()
	if p, ok := e.processes[id]; ok && p.alive() {
		e.mutex.Unlock()
		return errs.New(errs.KindAlreadyRunning, id, "already running")
	}

	cmd := exec.Command(e.path, e.args...)
	cmd.Env = append(os.Environ(),
		"SERVER_ID="+id,
		"SERVER_PORT="+endpoint.Port(),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		e.mutex.Unlock()
		return fmt.Errorf("starting worker %s: %w", id, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	e.processes[id] = p
	e.mutex.Unlock()

	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	e.logger.Info("Worker process started",
		slog.String("server", id),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("endpoint", endpoint.String()))

	if err := e.waitReady(ctx, id, endpoint, p); err != nil {
		_ = e.terminate(p)
		e.mutex.Lock()
		if e.processes[id] == p {
			delete(e.processes, id)
		}
		e.mutex.Unlock()
		return err
	}
	return nil
}

func (e *Exec) waitReady(ctx context.Context, id string, endpoint *url.URL, p *process) error {
	if e.prober == nil {
		return nil
	}

	readyCtx, cancel := context.WithTimeout(ctx, e.readyWait)
	defer cancel()

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    500 * time.Millisecond,
		Factor: 2,
	}

	for {
		if !p.alive() {
			return fmt.Errorf("worker %s exited during startup: %v", id, p.err)
		}

		probeCtx, probeCancel := context.WithTimeout(readyCtx, time.Second)
		err := e.prober.Probe(probeCtx, endpoint)
		probeCancel()
		if err == nil {
			return nil
		}

		select {
		case <-readyCtx.Done():
			return fmt.Errorf("worker %s not ready after %s: %w", id, e.readyWait, err)
		case <-p.done:
		case <-time.After(b.Duration()):
		}
	}
}

// Stop terminates the worker for id, escalating to a kill after the stop timeout.
func (e *Exec) Stop(_ context.Context, id string) error {
	e.mutex.Lock()
	p, ok := e.processes[id]
	if !ok || !p.alive() {
		delete(e.processes, id)
		e.mutex.Unlock()
		return errs.New(errs.KindNotRunning, id, "not running")
	}
	delete(e.processes, id)
	e.mutex.Unlock()

	if err := e.terminate(p); err != nil {
		return fmt.Errorf("stopping worker %s: %w", id, err)
	}

	e.logger.Info("Worker process stopped", slog.String("server", id))
	return nil
}

func (e *Exec) terminate(p *process) error {
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && p.alive() {
		return p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(e.stopWait):
		if err := p.cmd.Process.Kill(); err != nil {
			return err
		}
		<-p.done
		return nil
	}
}

func (e *Exec) Alive(id string) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	p, ok := e.processes[id]
	return ok && p.alive()
}

// StopAll terminates every tracked worker. Used at shutdown.
func (e *Exec) StopAll(ctx context.Context) {
	e.mutex.Lock()
	ids := make([]string, 0, len(e.processes))
	for id := range e.processes {
		ids = append(ids, id)
	}
	e.mutex.Unlock()

	for _, id := range ids {
		if err := e.Stop(ctx, id); err != nil {
			e.logger.Debug("Worker already gone", slog.String("server", id), slog.Any("err", err))
		}
	}
}
