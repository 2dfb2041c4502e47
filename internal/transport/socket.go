package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// maxReplyBytes caps how much of the reply is read.
const maxReplyBytes = 256

// DefaultTimeout bounds a whole request/reply exchange.
const DefaultTimeout = 30 * time.Second

// Socket speaks the protocol natively over a unix socket (a path or
// unix://path) or TCP (tcp://host:port).
type Socket struct {
	Timeout time.Duration
}

type halfCloser interface {
	CloseWrite() error
}

// Send implements Transport.
func (s Socket) Send(ctx context.Context, endpoint string, req Request) (Reply, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	body, err := req.Encode()
	if err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "encode", Err: err}
	}

	network, addr := splitEndpoint(endpoint)
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "dial", Err: err}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "deadline", Err: err}
	}
	if _, err := conn.Write(body); err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "write", Err: err}
	}
	hc, ok := conn.(halfCloser)
	if !ok {
		return "", &Fault{Endpoint: endpoint, Op: "half-close", Err: fmt.Errorf("%T cannot half-close", conn)}
	}
	if err := hc.CloseWrite(); err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "half-close", Err: err}
	}

	raw, err := io.ReadAll(io.LimitReader(conn, maxReplyBytes))
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", &Fault{Endpoint: endpoint, Op: "read", Err: fmt.Errorf("no reply within %v: %w", timeout, err)}
		}
		return "", &Fault{Endpoint: endpoint, Op: "read", Err: err}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "", &Fault{Endpoint: endpoint, Op: "read", Err: errors.New("connection closed without reply")}
	}
	return ParseReply(string(raw)), nil
}

func splitEndpoint(endpoint string) (network, addr string) {
	switch {
	case strings.HasPrefix(endpoint, "tcp://"):
		return "tcp", strings.TrimPrefix(endpoint, "tcp://")
	case strings.HasPrefix(endpoint, "unix://"):
		return "unix", strings.TrimPrefix(endpoint, "unix://")
	default:
		return "unix", endpoint
	}
}
