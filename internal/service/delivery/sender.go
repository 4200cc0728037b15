package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/pkg/circuitbreaker"
	"github.com/PauFou/form-builder-sub001/pkg/signature"
)

// Reserved outbound headers. Subscriber-configured custom headers are merged
// in first so they can never override these.
const (
	HeaderSignature  = "X-Forms-Signature"
	HeaderTimestamp  = "X-Forms-Timestamp"
	HeaderDeliveryID = "X-Forms-Delivery-Id"
)

const DefaultSendTimeout = 30 * time.Second

// SendResult captures one attempt. StatusCode is 0 on transport errors.
type SendResult struct {
	StatusCode int
	Duration   time.Duration
	Err        error
}

func (r *SendResult) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type SenderConfig struct {
	Timeout            time.Duration
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// Sender issues one signed POST per call. The http.Client enforces the
// bounded timeout and default TLS certificate verification; per-host circuit
// breakers keep a dead subscriber from tying up the pool.
type Sender struct {
	client   *http.Client
	config   SenderConfig
	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
	nowFn    func() time.Time
}

func NewSender(config SenderConfig) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = DefaultSendTimeout
	}
	return &Sender{
		client: &http.Client{
			Timeout: config.Timeout,
		},
		config:   config,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
		nowFn:    time.Now,
	}
}

// Send posts the delivery's frozen payload to the webhook URL.
func (s *Sender) Send(ctx context.Context, webhook *model.Webhook, delivery *model.Delivery) *SendResult {
	start := s.nowFn()
	result := &SendResult{}

	err := s.breaker(webhook.URL).Execute(func() error {
		status, err := s.post(ctx, webhook, delivery)
		result.StatusCode = status
		return err
	})
	result.Err = err
	result.Duration = s.nowFn().Sub(start)

	if err == nil && (result.StatusCode < 200 || result.StatusCode >= 300) {
		result.Err = fmt.Errorf("subscriber returned status %d", result.StatusCode)
	}
	return result
}

func (s *Sender) post(ctx context.Context, webhook *model.Webhook, delivery *model.Delivery) (int, error) {
	body := []byte(delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	// Custom headers first, reserved headers last.
	for name, value := range webhook.Headers {
		if name == HeaderSignature || name == HeaderTimestamp || name == HeaderDeliveryID {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature.Sign(body, webhook.Secret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(s.nowFn().Unix(), 10))
	req.Header.Set(HeaderDeliveryID, delivery.ID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection is reusable; the body itself is ignored.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

func (s *Sender) breaker(rawURL string) *circuitbreaker.CircuitBreaker {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[host]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        host,
			MaxFailures: s.config.BreakerMaxFailures,
			Timeout:     s.config.BreakerTimeout,
		})
		s.breakers[host] = cb
	}
	return cb
}
