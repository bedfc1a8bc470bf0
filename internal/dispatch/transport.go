package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voidxp/voidgate/internal/router"
	"github.com/voidxp/voidgate/internal/router/adapters"
)

// HTTPTransport posts wire requests with one pooled client per provider,
// sized and deadlined from the provider's descriptor.
type HTTPTransport struct {
	clients map[string]*http.Client
}

func NewHTTPTransport(reg *router.Registry) *HTTPTransport {
	clients := make(map[string]*http.Client)
	for _, d := range reg.List() {
		clients[d.Code] = &http.Client{
			Timeout: d.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        d.MaxConcurrent,
				MaxIdleConnsPerHost: d.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}
	return &HTTPTransport{clients: clients}
}

func (t *HTTPTransport) Send(ctx context.Context, d *router.Descriptor, wire *adapters.WireRequest) (int, []byte, error) {
	client, ok := t.clients[d.Code]
	if !ok {
		return 0, nil, fmt.Errorf("no client for provider %s", d.Code)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+wire.Path, bytes.NewReader(wire.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	d.Adapter.Authorize(req.Header, d.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read provider response: %w", err)
	}
	return resp.StatusCode, body, nil
}
