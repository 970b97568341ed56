package envoy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
)

const (
	// controlTimeout matches the remote control server's own client timeout.
	controlTimeout = 120 * time.Second

	// statusPollInterval is the cadence of the status-poll loop.
	statusPollInterval = 2 * time.Second

	// Submit pacing for command requests. The control servers tolerate only
	// a handful of concurrent configuration requests; the limiter keeps a
	// runaway caller from stacking them up.
	commandRatePerSec = 2
	commandBurst      = 4
)

// ControlEnvoy owns the connection to one module's control server. The same
// envoy type backs two worker roles: a command loop that executes
// transition requests routed to this module, and a status loop that polls
// the server on a fixed cadence. Each role runs as its own goroutine with
// its own envoy instance so a slow transition never delays status updates.
type ControlEnvoy struct {
	cfg      ModuleConfig
	client   *http.Client
	limiter  *rate.Limiter
	inbound  <-chan daq.Message
	outbound chan<- daq.Message
	logger   *logger.Logger
}

// NewControlEnvoy constructs an envoy for the given module. The inbound
// channel may be nil for poll-only instances.
func NewControlEnvoy(
	cfg ModuleConfig,
	inbound <-chan daq.Message,
	outbound chan<- daq.Message,
	log *logger.Logger,
) *ControlEnvoy {
	return &ControlEnvoy{
		cfg: cfg,
		client: &http.Client{
			Timeout: controlTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(commandRatePerSec), commandBurst),
		inbound:  inbound,
		outbound: outbound,
		logger:   log.With("module_id", int(cfg.ID), "module_url", cfg.URL),
	}
}

// RunCommands consumes transition commands for this module until the
// context is cancelled or the inbound channel closes. Transport and
// remote-side failures are logged and the loop continues; the caller
// observes them as a missing response and times out at its own deadline.
func (e *ControlEnvoy) RunCommands(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-e.inbound:
			if !ok {
				return nil
			}

			result, err := e.submitOperation(ctx, msg)
			if err != nil {
				e.logger.Error(ctx, "control operation failed", "error", err)
				continue
			}

			select {
			case e.outbound <- result:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// RunStatusPolls queries the module's state on a fixed cadence until the
// context is cancelled. A failed poll degrades to a default offline record
// so a transient outage shows up as Offline instead of a stale status.
func (e *ControlEnvoy) RunStatusPolls(ctx context.Context) error {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			msg, err := e.submitStatusQuery(ctx)
			if err != nil {
				e.logger.Debug(ctx, "status poll failed, reporting offline", "error", err)
				msg = daq.NewStatusMessage(daq.ModuleStatus{}, e.cfg.ID)
			}

			select {
			case e.outbound <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (e *ControlEnvoy) submitOperation(ctx context.Context, msg daq.Message) (daq.Message, error) {
	req, err := msg.AsOperation()
	if err != nil {
		return daq.Message{}, err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return daq.Message{}, err
	}

	body, err := e.post(ctx, composeOperationRequest(e.cfg, req.Operation))
	if err != nil {
		return daq.Message{}, fmt.Errorf("submitting %s: %w", req.Operation, err)
	}
	defer body.Close()

	result, err := parseOperationResponse(body)
	if err != nil {
		return daq.Message{}, fmt.Errorf("parsing %s response: %w", req.Operation, err)
	}

	return daq.NewOperationResultMessage(result, e.cfg.ID), nil
}

func (e *ControlEnvoy) submitStatusQuery(ctx context.Context) (daq.Message, error) {
	body, err := e.post(ctx, composeStatusRequest())
	if err != nil {
		return daq.Message{}, err
	}
	defer body.Close()

	status, err := parseStatusResponse(body)
	if err != nil {
		return daq.Message{}, err
	}

	return daq.NewStatusMessage(status, e.cfg.ID), nil
}

func (e *ControlEnvoy) post(ctx context.Context, payload string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
