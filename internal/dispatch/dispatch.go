package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/router/adapters"
	"github.com/voidxp/voidgate/internal/telemetry"
	"github.com/voidxp/voidgate/internal/types"
)

const (
	maxAttempts  = 2
	retryBackoff = 200 * time.Millisecond
)

// Error kinds, matching the API error taxonomy.
const (
	KindTimeout           = "timeout"
	KindUnreachable       = "unreachable"
	KindProviderRejected  = "provider_rejected"
	KindMalformedResponse = "malformed_response"
)

// Error is a terminal dispatch failure. Attempts counts how many times the
// provider was actually called.
type Error struct {
	Kind           string
	Provider       string
	ProviderStatus int
	Attempts       int
	Message        string
}

func (e *Error) Error() string { return e.Message }

// Transport posts a wire request to a provider and returns the HTTP status
// and raw body.
type Transport interface {
	Send(ctx context.Context, d *router.Descriptor, wire *adapters.WireRequest) (status int, body []byte, err error)
}

// Dispatcher drives one invocation through its state machine. Only
// transport-level failures earn a retry, and only once; provider verdicts,
// timeouts, and cancellations are terminal on first sight. There is no
// cross-provider fallback.
type Dispatcher struct {
	transport Transport
	metrics   *telemetry.Metrics
	sleep     func(time.Duration)
}

func NewDispatcher(transport Transport, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		metrics:   metrics,
		sleep:     time.Sleep,
	}
}

// Dispatch sends the wire request and parses the provider's answer into the
// canonical result. model fills the result when the provider echoes none.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *router.Descriptor, wire *adapters.WireRequest, model string) (*types.Result, error) {
	start := time.Now()
	state := StatePending

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state = StateInFlight
		slog.Debug("provider call",
			"provider", desc.Code,
			"attempt", attempt,
			"state", state.String(),
		)
		if d.metrics != nil {
			d.metrics.RecordDispatchAttempt(desc.Code)
		}

		status, body, err := d.transport.Send(ctx, desc, wire)
		if err != nil {
			if isTimeout(err) {
				state = StateFailed
				slog.Warn("provider call timed out",
					"provider", desc.Code,
					"attempt", attempt,
					"state", state.String(),
				)
				return nil, &Error{
					Kind:     KindTimeout,
					Provider: desc.Code,
					Attempts: attempt,
					Message:  timeoutMessage(err),
				}
			}
			lastErr = err
			if attempt < maxAttempts {
				d.sleep(retryBackoff << (attempt - 1))
			}
			continue
		}

		if status < 200 || status > 299 {
			state = StateFailed
			slog.Warn("provider rejected request",
				"provider", desc.Code,
				"status", status,
				"state", state.String(),
			)
			return nil, &Error{
				Kind:           KindProviderRejected,
				Provider:       desc.Code,
				ProviderStatus: status,
				Attempts:       attempt,
				Message:        fmt.Sprintf("%s returned status %d: %s", desc.Code, status, truncate(body, 256)),
			}
		}

		result, err := desc.Adapter.Denormalize(body)
		if err != nil {
			state = StateFailed
			slog.Warn("provider response unparseable",
				"provider", desc.Code,
				"state", state.String(),
				"error", err,
			)
			return nil, &Error{
				Kind:           KindMalformedResponse,
				Provider:       desc.Code,
				ProviderStatus: status,
				Attempts:       attempt,
				Message:        fmt.Sprintf("%s sent an unparseable success response: %v", desc.Code, err),
			}
		}

		state = StateSucceeded
		result.Provider = desc.Code
		if result.Model == "" {
			result.Model = model
		}
		result.LatencyMs = time.Since(start).Milliseconds()
		result.TokensUsed = result.Usage.TotalTokens
		slog.Debug("provider call finished",
			"provider", desc.Code,
			"state", state.String(),
			"latency_ms", result.LatencyMs,
		)
		return result, nil
	}

	state = StateFailed
	slog.Warn("provider unreachable",
		"provider", desc.Code,
		"attempts", maxAttempts,
		"state", state.String(),
		"error", lastErr,
	)
	return nil, &Error{
		Kind:     KindUnreachable,
		Provider: desc.Code,
		Attempts: maxAttempts,
		Message:  fmt.Sprintf("%s unreachable after %d attempts: %v", desc.Code, maxAttempts, lastErr),
	}
}

// isTimeout classifies deadline and cancellation errors. A canceled caller
// context ends the attempt the same way a deadline does; it must never be
// retried.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func timeoutMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "request canceled before the provider answered"
	}
	return "provider did not answer within the deadline"
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
