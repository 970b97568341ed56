package envoy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
)

const statusOKBody = `<Envelope><Body><GetStateResponse>
<ErrorCode>0</ErrorCode>
<State>3</State>
<Transition>0</Transition>
</GetStateResponse></Body></Envelope>`

const operationOKBody = `<Envelope><Body><PrepareResponse>
<ErrorCode>0</ErrorCode>
<ErrorMessage></ErrorMessage>
<Text>prepared</Text>
</PrepareResponse></Body></Envelope>`

// testEnvoy builds an envoy pointed at the given server URL.
func testEnvoy(url string, inbound <-chan daq.Message, outbound chan<- daq.Message) *ControlEnvoy {
	cfg := NewModuleConfig(2, "e20009")
	cfg.URL = url
	return NewControlEnvoy(cfg, inbound, outbound, logger.Noop())
}

func TestControlEnvoy_SubmitOperation(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		assert.Equal(t, "text/xml", r.Header.Get("Content-Type"))
		io.WriteString(w, operationOKBody)
	}))
	defer srv.Close()

	e := testEnvoy(srv.URL, nil, nil)
	msg, err := e.submitOperation(context.Background(), daq.NewOperationMessage(daq.OpPrepare, 2))
	require.NoError(t, err)

	assert.Contains(t, received, "<Prepare>")
	assert.Equal(t, daq.KindControlOpResponse, msg.Kind)
	assert.Equal(t, daq.ModuleID(2), msg.ModuleID)

	result, err := msg.AsOperationResult()
	require.NoError(t, err)
	assert.Equal(t, int32(0), result.ErrorCode)
	assert.Equal(t, "prepared", result.Text)
}

func TestControlEnvoy_SubmitOperation_WrongKind(t *testing.T) {
	e := testEnvoy("http://127.0.0.1:0", nil, nil)

	_, err := e.submitOperation(context.Background(), daq.NewStatusMessage(daq.ModuleStatus{}, 2))
	require.Error(t, err)

	var mismatch *daq.KindMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestControlEnvoy_SubmitStatusQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, statusOKBody)
	}))
	defer srv.Close()

	e := testEnvoy(srv.URL, nil, nil)
	msg, err := e.submitStatusQuery(context.Background())
	require.NoError(t, err)

	status, err := msg.AsModuleStatus()
	require.NoError(t, err)
	assert.Equal(t, daq.StatusPrepared, status.Status())
}

func TestControlEnvoy_RunCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, operationOKBody)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan daq.Message, 1)
	outbound := make(chan daq.Message, 1)
	e := testEnvoy(srv.URL, inbound, outbound)

	done := make(chan error, 1)
	go func() { done <- e.RunCommands(ctx) }()

	inbound <- daq.NewOperationMessage(daq.OpPrepare, 2)

	select {
	case msg := <-outbound:
		assert.Equal(t, daq.KindControlOpResponse, msg.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no response before deadline")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command loop did not exit on cancel")
	}
}

func TestControlEnvoy_RunCommands_StopsOnChannelClose(t *testing.T) {
	inbound := make(chan daq.Message)
	e := testEnvoy("http://127.0.0.1:0", inbound, nil)

	done := make(chan error, 1)
	go func() { done <- e.RunCommands(context.Background()) }()

	close(inbound)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command loop did not exit on channel close")
	}
}

func TestControlEnvoy_RunStatusPolls_OfflineOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan daq.Message, 4)
	// Unroutable URL: every poll fails and must degrade to offline.
	e := testEnvoy("http://127.0.0.1:1", nil, outbound)
	e.client.Timeout = 100 * time.Millisecond

	go e.RunStatusPolls(ctx)

	select {
	case msg := <-outbound:
		status, err := msg.AsModuleStatus()
		require.NoError(t, err)
		assert.Equal(t, daq.StatusOffline, status.Status())
	case <-time.After(10 * time.Second):
		t.Fatal("no status report before deadline")
	}
}
