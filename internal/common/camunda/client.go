// internal/common/camunda/client.go
package camunda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "bloodlink/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client is the Zeebe connection shared by the job workers and the offer
// service, which publishes request-fulfilled messages through it.
type Client struct {
	zb  zbc.Client
	cfg ClientConfig
}

type ClientConfig struct {
	GatewayAddress string
	Plaintext      bool
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Retry          RetryConfig
}

// RetryConfig bounds the backoff applied to transient gateway errors.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		c.Retry.MaxDelay = c.Retry.BaseDelay
	}
	return c
}

// Connect dials the gateway and waits for a topology answer before handing
// the client out.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	zb, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.Plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("create zeebe client: %w", err)
	}
	c := &Client{zb: zb, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		zb.Close()
		return nil, fmt.Errorf("zeebe gateway %s: %w", cfg.GatewayAddress, err)
	}
	return c, nil
}

// Wrap adapts an already connected Zeebe client.
func Wrap(zb zbc.Client, cfg ClientConfig) *Client {
	return &Client{zb: zb, cfg: cfg.withDefaults()}
}

// GetClient returns the raw Zeebe client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.zb
}

func (c *Client) Close() error {
	if c.zb == nil {
		return nil
	}
	return c.zb.Close()
}

// Ping asks the gateway for its topology. It backs the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	if c.zb == nil {
		return errors.New("zeebe client not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if _, err := c.zb.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe topology: %w", err)
	}
	return nil
}

// PublishMessage publishes a correlated message, retrying transient
// failures. ttl bounds how long the broker buffers an uncorrelated message.
func (c *Client) PublishMessage(ctx context.Context, name, correlationKey string, ttl time.Duration, variables map[string]interface{}) error {
	return c.withRetry(ctx, "publish-message:"+name, func(ctx context.Context) error {
		cmd, err := c.zb.NewPublishMessageCommand().
			MessageName(name).
			CorrelationKey(correlationKey).
			TimeToLive(ttl).
			VariablesFromMap(variables)
		if err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		_, err = cmd.Send(reqCtx)
		return err
	})
}

// withRetry runs fn until it succeeds, fails permanently or runs out of
// attempts. The delay doubles per attempt up to Retry.MaxDelay.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := c.cfg.Retry.BaseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= c.cfg.Retry.MaxRetries {
			return classify(err, op, attempt+1)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled after %d attempts: %w", op, attempt+1, ctx.Err())
		}
		if delay *= 2; delay > c.cfg.Retry.MaxDelay {
			delay = c.cfg.Retry.MaxDelay
		}
	}
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
}

func retryable(err error) bool {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classify maps a gateway failure onto the application error codes. gRPC
// status codes win; plain errors fall back to their message.
func classify(err error, op string, attempts int) error {
	detail := fmt.Errorf("zeebe %s failed after %d attempt(s): %w", op, attempts, err)

	code := codes.Unknown
	if st, ok := status.FromError(err); ok {
		code = st.Code()
	}
	if code == codes.Unknown {
		code = codeFromMessage(err)
	}

	switch code {
	case codes.DeadlineExceeded:
		return apperrors.NewTimeoutError("zeebe", detail)
	case codes.NotFound:
		return apperrors.NewResourceNotFoundError("zeebe", detail.Error())
	case codes.AlreadyExists:
		return apperrors.NewBusinessRuleError(detail.Error(), "resource already exists")
	case codes.PermissionDenied, codes.Unauthenticated:
		return apperrors.NewAuthenticationError(detail.Error())
	default:
		return apperrors.NewExternalServiceError("zeebe", detail)
	}
}

func codeFromMessage(err error) codes.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return codes.DeadlineExceeded
	case strings.Contains(msg, "not found"):
		return codes.NotFound
	case strings.Contains(msg, "already exists"):
		return codes.AlreadyExists
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "unauthorized"):
		return codes.PermissionDenied
	default:
		return codes.Unavailable
	}
}
