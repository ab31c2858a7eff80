package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/channel"
	"crabbybot/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"telegram": {Running: true}}}
	require.False(t, svc.isReady(), "not ready without provider health")

	svc.providerLastOKAt = time.Now().UTC()
	require.True(t, svc.isReady())

	svc.providerLastErr = "boom"
	require.False(t, svc.isReady(), "not ready when provider has error")

	svc.providerLastErr = ""
	svc.channelStates["telegram"] = channelState{Running: false, Error: "stopped"}
	require.False(t, svc.isReady(), "not ready without running channels")
}

func TestNewServiceValidatesInput(t *testing.T) {
	t.Parallel()

	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram"}}

	_, err := newService(nil, &echoBackend{}, adapters, nil)
	require.Error(t, err)

	_, err = newService(&config.Config{}, nil, adapters, nil)
	require.Error(t, err)

	_, err = newService(&config.Config{}, &echoBackend{}, nil, nil)
	require.Error(t, err)
}

func TestStatusHandlersReportRuntimeState(t *testing.T) {
	t.Parallel()

	mb, _ := bus.New(4)
	defer mb.Close()
	require.NoError(t, mb.PublishOutbound(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "queued"}))

	svc := &Service{
		channelStates:    map[string]channelState{"telegram": {Running: true}},
		startedAt:        time.Now().Add(-time.Minute),
		providerLastOKAt: time.Now(),
		bus:              mb,
	}

	recorder := httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"status":"ready"`)
	require.Contains(t, recorder.Body.String(), `"pending_outbound":1`)
	require.Contains(t, recorder.Body.String(), `"telegram":{"running":true}`)

	svc.providerLastErr = "down"
	recorder = httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"provider_last_error":"down"`)

	recorder = httptest.NewRecorder()
	svc.handleHealth(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"status":"ok"`)
}

func TestLogEventHandlesEveryType(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	mb, _ := bus.New(4)

	done := make(chan struct{})
	go func() {
		logEvents(ctx, mb, discardLogger())
		close(done)
	}()

	for _, eventType := range []bus.EventType{bus.EventPromptReceived, bus.EventPromptCompleted, bus.EventPromptFailed, "custom"} {
		mb.PublishEvent(ctx, bus.Event{Type: eventType, RequestID: "r1", Payload: map[string]string{"k": "v"}})
	}

	mb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		cancel()
		t.Fatal("event logger did not stop with the bus")
	}
	cancel()
}
