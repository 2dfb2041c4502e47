package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command bridges to the Sender Service through a helper process such as
// "nc -U {endpoint}". The payload is written to the helper's stdin, which
// is then closed; the helper's stdout is the reply.
type Command struct {
	Helper  string
	Timeout time.Duration
}

// Send implements Transport.
func (c Command) Send(ctx context.Context, endpoint string, req Request) (Reply, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	body, err := req.Encode()
	if err != nil {
		return "", &Fault{Endpoint: endpoint, Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdStr := strings.ReplaceAll(c.Helper, "{endpoint}", shellQuote(endpoint))
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Fault{Endpoint: endpoint, Op: "helper", Err: fmt.Errorf("no reply within %v", timeout)}
		}
		return "", &Fault{Endpoint: endpoint, Op: "helper",
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	if len(strings.TrimSpace(stdout.String())) == 0 {
		return "", &Fault{Endpoint: endpoint, Op: "helper", Err: errors.New("helper exited without reply")}
	}
	return ParseReply(stdout.String()), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
