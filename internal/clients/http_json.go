package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lottery-backend/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// errorBody error payload returned by the gateways
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// jsonClient JSON-over-HTTP transport shared by the chain clients.
// Transient failures trip a circuit breaker; ledger rejections do not.
type jsonClient struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// rejection carries a 4xx answer through the breaker as a success
type rejection struct {
	err error
}

func newJSONClient(name, baseURL string, timeout time.Duration, maxFailures uint32, openFor time.Duration) *jsonClient {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	c := &jsonClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"client": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("🔌 [HTTP] circuit breaker state changed")
		},
	})
	return c
}

// do sends in as JSON and decodes the answer into out (either may be nil)
func (c *jsonClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: marshal %s request: %v", types.ErrInvalidInput, path, err)
		}
		payload = data
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, payload, out)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s %s: %v", types.ErrAdapterFailure, c.name, path, err)
		}
		return err
	}
	if r, ok := result.(*rejection); ok && r != nil {
		return r.err
	}
	return nil
}

func (c *jsonClient) roundTrip(ctx context.Context, method, path string, payload []byte, out interface{}) (interface{}, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", types.ErrAdapterFailure, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", types.ErrAdapterFailure, c.name, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", types.ErrAdapterFailure, path, err)
	}

	if err := classifyStatus(c.name, path, resp.StatusCode, data); err != nil {
		if errors.Is(err, types.ErrRejected) {
			return &rejection{err: err}, nil
		}
		return nil, err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%w: decode %s response: %v", types.ErrAdapterFailure, path, err)
		}
	}
	return nil, nil
}

// classifyStatus maps an HTTP answer onto the adapter error taxonomy:
// 2xx ok, 408/429/5xx transient, other 4xx rejected by the ledger.
func classifyStatus(name, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			msg = eb.Message
		} else if eb.Error != "" {
			msg = eb.Error
		}
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: %s %s returned %d: %s", types.ErrAdapterFailure, name, path, status, msg)
	}
	return fmt.Errorf("%w: %s %s returned %d: %s", types.ErrRejected, name, path, status, msg)
}
