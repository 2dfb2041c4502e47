// Package transport delivers post payloads to the Sender Service: one
// request and one single-word reply per connection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the Sender Service's one-word verdict.
type Reply string

const (
	Success Reply = "success"
	Failed  Reply = "failed"
	Error   Reply = "error"
)

// ParseReply maps a raw reply to a Reply. Anything other than the three
// known words is Error.
func ParseReply(raw string) Reply {
	switch r := Reply(strings.TrimSpace(raw)); r {
	case Success, Failed, Error:
		return r
	default:
		return Error
	}
}

// Request is the wire body sent to the Sender Service. Image is always
// encoded as an array, never null.
type Request struct {
	Text    string          `json:"text"`
	Image   []string        `json:"image"`
	Cookies json.RawMessage `json:"cookies,omitempty"`
}

// Encode marshals r, normalizing a nil image list to [].
func (r Request) Encode() ([]byte, error) {
	if r.Image == nil {
		r.Image = []string{}
	}
	return json.Marshal(r)
}

// Fault is a connection-level failure: the endpoint could not be reached,
// the connection closed abnormally, the read timed out or the helper
// process failed. It is distinct from a Failed/Error reply.
type Fault struct {
	Endpoint string
	Op       string
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", f.Op, f.Endpoint, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Transport sends one request to endpoint and returns the parsed reply.
// A non-nil error is always a *Fault.
type Transport interface {
	Send(ctx context.Context, endpoint string, req Request) (Reply, error)
}
