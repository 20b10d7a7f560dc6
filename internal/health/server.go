package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bilal/lattice-bridge/internal/monitor"
	"github.com/bilal/lattice-bridge/internal/publisher"
	"github.com/bilal/lattice-bridge/internal/supervisor"
)

// Status is the /health response body.
type Status struct {
	Running        bool             `json:"running"`
	LinkState      supervisor.State `json:"link_state"`
	Epoch          uint64           `json:"epoch"`
	LastPublishOK  bool             `json:"last_publish_ok"`
	LastPublish    *time.Time       `json:"last_publish,omitempty"`
	LastPublishAgo string           `json:"last_publish_ago,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	Published      uint64           `json:"published"`
	Failed         uint64           `json:"failed"`
	Probe          *monitor.Report  `json:"probe,omitempty"`
}

type Server struct {
	addr string
	srv  *http.Server

	running   int32
	published atomic.Uint64
	failed    atomic.Uint64

	mu          sync.Mutex
	linkState   supervisor.State
	epoch       uint64
	lastPublish time.Time
	lastOK      bool
	lastErr     string
	probe       *monitor.Report
}

func New(addr string) *Server {
	s := &Server{addr: addr, linkState: supervisor.Disconnected}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) SetRunning(ok bool) {
	if ok {
		atomic.StoreInt32(&s.running, 1)
	} else {
		atomic.StoreInt32(&s.running, 0)
	}
}

// SetLinkState matches supervisor.StateHook.
func (s *Server) SetLinkState(st supervisor.State, epoch uint64) {
	s.mu.Lock()
	s.linkState, s.epoch = st, epoch
	s.mu.Unlock()
}

// RecordPublish matches publisher.ResultHook.
func (s *Server) RecordPublish(r publisher.Result) {
	if r.Err != nil {
		s.failed.Add(1)
	} else {
		s.published.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPublish = r.At
	s.lastOK = r.Err == nil
	s.lastErr = ""
	if r.Err != nil {
		s.lastErr = r.Err.Error()
	}
}

// SetProbe matches monitor.ReportHook.
func (s *Server) SetProbe(r monitor.Report) {
	s.mu.Lock()
	s.probe = &r
	s.mu.Unlock()
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:       atomic.LoadInt32(&s.running) == 1,
		LinkState:     s.linkState,
		Epoch:         s.epoch,
		LastPublishOK: s.lastOK,
		LastError:     s.lastErr,
		Published:     s.published.Load(),
		Failed:        s.failed.Load(),
		Probe:         s.probe,
	}
	if !s.lastPublish.IsZero() {
		at := s.lastPublish.UTC()
		st.LastPublish = &at
		st.LastPublishAgo = humanize.Time(s.lastPublish)
	}
	return st
}

// Serve blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}
