package speech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const dialAttempts = 3

// dialProvider 带重试的连接建立。握手被拒绝（4xx）时不重试。
func dialProvider(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 300 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	var conn *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, resp, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
			}
			if !isRetryableDialError(err) {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Str("url", url).Int("attempt", attempt).Msg("provider dial failed, retrying")
			return err
		}
		if resp != nil {
			if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
				log.Debug().Str("logid", logID).Str("url", url).Msg("provider connected")
			}
		}
		conn = c
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, dialAttempts-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return conn, nil
}

// closeOnDone closes conn when ctx ends so a blocked ReadMessage returns.
// The returned func releases the watcher.
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// isRetryableDialError 判断错误是否可重试
func isRetryableDialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway)
}
