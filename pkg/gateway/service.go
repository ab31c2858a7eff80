package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"crabbybot/pkg/agent"
	"crabbybot/pkg/bus"
	"crabbybot/pkg/channel"
	"crabbybot/pkg/config"
	"crabbybot/pkg/heartbeat"
	"crabbybot/pkg/provider"
	"crabbybot/pkg/stream"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	healthCheckInterval = 30 * time.Second
	shutdownGrace       = 10 * time.Second
)

// Backend is the processing stage driven by the bridge.
type Backend interface {
	Processor
	Health(ctx context.Context) error
}

// Service wires transports, the message bus, the bridge and the background
// workers together and owns their shutdown order.
type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	backend      Backend
	channels     []channel.Adapter
	statusServer bool

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
	bus              *bus.MessageBus
	bridge           *Bridge
	streams          *stream.Controller
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
	Processed        int64                   `json:"processed"`
	PendingInbound   int                     `json:"pending_inbound"`
	PendingOutbound  int                     `json:"pending_outbound"`
	Stream           string                  `json:"stream,omitempty"`
}

type ServiceOption func(*Service)

// WithoutStatusServer skips the /healthz and /readyz listener.
func WithoutStatusServer() ServiceOption {
	return func(s *Service) {
		s.statusServer = false
	}
}

// NewService builds the provider client and agent named by cfg.
func NewService(cfg *config.Config, adapters []channel.Adapter, log *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := provider.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}

	backend, err := agent.New(client, log, agent.WithTranscriptLimit(cfg.Agents.Defaults.HistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("initialize agent: %w", err)
	}

	return newService(cfg, backend, adapters, log, opts...)
}

func newService(cfg *config.Config, backend Backend, adapters []channel.Adapter, log *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		backend:       backend,
		channels:      adapters,
		statusServer:  true,
		channelStates: channelStates,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run serves until ctx is done, every adapter has returned, or a transport or
// the status server fails. Shutdown drains the queues in order: transports
// stop, the bridge answers what is already queued, stream workers stop and
// the dispatch loop delivers the remaining replies.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	mb, rx := bus.New(s.cfg.Bus.QueueCapacity(),
		bus.WithDispatchTimeout(s.cfg.Bus.DispatchTimeout()),
		bus.WithLogger(s.log.With("service", "bus")),
	)
	defer mb.Close()

	// Workers outlive ctx so queued messages can drain; stopWork is the hard stop.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	// Producers (transports, heartbeat, health ticker, status server).
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	go logEvents(workCtx, mb, s.log)

	var bridgeOpts []BridgeOption
	var streams *stream.Controller
	if strings.TrimSpace(s.cfg.Stream.URL) != "" {
		controller, err := stream.NewController(s.cfg.Stream, mb, s.log)
		if err != nil {
			return fmt.Errorf("initialize stream: %w", err)
		}
		streams = controller
		bridgeOpts = append(bridgeOpts, WithStreamReporter(controller))
	}

	bridge, err := NewBridge(mb, s.backend, s.log, bridgeOpts...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.bus = mb
	s.bridge = bridge
	s.streams = streams
	s.mu.Unlock()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		mb.DispatchOutbound(workCtx, rx.Outbound)
	}()

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := bridge.Run(workCtx, rx.Inbound); err != nil {
			s.log.Error("Bridge stopped with error", "error", err)
		}
	}()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if streams == nil {
			for range rx.Internal {
				s.log.Debug("Dropping internal message, stream is not configured")
			}
			return
		}
		if err := streams.Run(workCtx, rx.Internal); err != nil {
			s.log.Error("Stream controller stopped with error", "error", err)
		}
	}()

	if s.cfg.Heartbeat.Enabled {
		beat, err := heartbeat.New(s.cfg.Heartbeat, mb.InboundSender(), s.log)
		if err != nil {
			s.log.Warn("Heartbeat disabled", "error", err)
		} else {
			go func() {
				if err := beat.Run(runCtx); err != nil {
					s.log.Error("Heartbeat stopped with error", "error", err)
				}
			}()
		}
	}

	var serverErrors chan error
	if s.statusServer {
		serverErrors = make(chan error, 1)
		go s.runHealthServer(runCtx, serverErrors)
	}

	go s.watchProviderHealth(runCtx)

	adapterErrors := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(runCtx, mb)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil {
				err = fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			adapterErrors <- err
		}()
	}

	var runErr error
	for remaining := len(s.channels); remaining > 0; {
		select {
		case err := <-adapterErrors:
			remaining--
			if err != nil && runErr == nil {
				runErr = err
				stopRun()
			}
		case err := <-serverErrors:
			if runErr == nil {
				runErr = err
			}
			stopRun()
		}
	}
	stopRun()

	s.log.Info("Transports stopped, draining queues")
	mb.CloseInbound()
	s.awaitDrain("bridge", bridgeDone, stopWork)
	mb.CloseInternal()
	s.awaitDrain("stream", streamDone, stopWork)
	mb.CloseOutbound()
	s.awaitDrain("dispatch", dispatchDone, stopWork)

	return runErr
}

// awaitDrain waits for a worker to finish, forcing the hard stop after the
// shutdown grace period.
func (s *Service) awaitDrain(name string, done <-chan struct{}, stop context.CancelFunc) {
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.log.Warn("Worker did not drain in time, cancelling", "worker", name)
		stop()
		<-done
	}
}

func (s *Service) watchProviderHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Provider health check failed", "error", err)
			}
		}
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	resp := statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
	if s.bridge != nil {
		resp.Processed = s.bridge.Processed()
	}
	if s.bus != nil {
		resp.PendingInbound, resp.PendingOutbound = s.bus.Pending()
	}
	if s.streams != nil {
		if active, ok := s.streams.Active(); ok {
			resp.Stream = active.Channel + ":" + active.ChatID
		}
	}

	return resp
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	return anyRunning && !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.backend.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
