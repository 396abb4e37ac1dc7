package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vozlab.mx/conversa/common/llm"
)

// Client produces chat completions with bounded retries, per-attempt
// timeouts, and exponential backoff. Failures are classified into the typed
// errors in types.go.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

type CompletionRequest struct {
	Messages    []llm.Message
	MaxTokens   int
	Temperature *float64
}

type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Attempts         int
}

type Config struct {
	MaxAttempts    int           // total attempts including the first (default 3)
	AttemptTimeout time.Duration // wall-clock budget per attempt (default 45s)
	RetryBase      time.Duration // first backoff, doubled each retry (default 1s)
	RetryMax       time.Duration // backoff cap (default 20s)
	RPS            float64       // client-side requests per second, 0 disables
}

type client struct {
	chat    llm.Client
	cfg     Config
	limiter *rate.Limiter
}

func New(chat llm.Client, cfg Config) Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 45 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 20 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &client{chat: chat, cfg: cfg, limiter: limiter}
}

func (c *client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		resp, err := c.chat.ChatText(attemptCtx, llm.TextRequest{
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		cancel()

		if err == nil {
			if strings.TrimSpace(resp.Content) == "" {
				lastErr = fmt.Errorf("%w: empty completion", ErrInvalidResponse)
				slog.WarnContext(ctx, "empty completion, will retry", "attempt", attempt)
				if waitErr := c.wait(ctx, attempt, nil); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return &CompletionResult{
				Content:          resp.Content,
				PromptTokens:     resp.PromptTokens,
				CompletionTokens: resp.CompletionTokens,
				Attempts:         attempt,
			}, nil
		}

		// A dead parent context ends the turn; an expired attempt deadline
		// only ends the attempt.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("completion canceled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Errorf("%w after %s: %v", ErrTimeout, c.cfg.AttemptTimeout, err)
			slog.WarnContext(ctx, "completion attempt timed out",
				"attempt", attempt,
				"timeout", c.cfg.AttemptTimeout.String())
			if waitErr := c.wait(ctx, attempt, nil); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if !llm.IsRetryable(ctx, err) {
			return nil, classify(err)
		}

		lastErr = classify(err)
		if waitErr := c.wait(ctx, attempt, err); waitErr != nil {
			return nil, waitErr
		}
	}

	return nil, fmt.Errorf("exhausted %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// wait sleeps the backoff for the given attempt, honoring a server-provided
// Retry-After hint when it is longer. Returns early if ctx dies.
func (c *client) wait(ctx context.Context, attempt int, cause error) error {
	if attempt >= c.cfg.MaxAttempts {
		return nil
	}

	backoff := c.cfg.RetryBase * time.Duration(1<<(attempt-1))
	if backoff > c.cfg.RetryMax {
		backoff = c.cfg.RetryMax
	}
	sleep := backoff/2 + rand.N(backoff/2+1)

	if cause != nil {
		if hint, ok := llm.RetryAfter(cause); ok && hint > sleep {
			sleep = hint
		}
	}

	select {
	case <-time.After(sleep):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("completion canceled during backoff: %w", ctx.Err())
	}
}

func classify(err error) error {
	if code, ok := llm.StatusCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case code >= 500:
			return fmt.Errorf("%w: %v", ErrServerError, err)
		default:
			return fmt.Errorf("completion rejected: %w", err)
		}
	}
	// No API response: transport-level failure
	return fmt.Errorf("%w: %v", ErrServerError, err)
}
