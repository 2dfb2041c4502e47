// Package credential validates and renews the stored session blob of a
// group identity.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gfhdhytghd/oqqwall/internal/logx"
)

// State is the outcome of Validate.
type State int

const (
	// Usable means the blob decodes and carries a session key.
	Usable State = iota
	// Unknown means the blob decodes but lacks a recognizable session key;
	// the guard defers to the Sender Service's verdict.
	Unknown
	// Missing means no blob is stored.
	Missing
	// Malformed means the blob does not parse.
	Malformed
)

func (s State) String() string {
	switch s {
	case Usable:
		return ""
	case Unknown:
		return "unknown"
	case Missing:
		return "missing"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the result of Validate. Reason is empty when the blob is
// presumed usable.
type Status struct {
	State  State
	Reason string
}

// Valid reports whether a send may be attempted with the stored blob.
func (s Status) Valid() bool {
	return s.State == Usable || s.State == Unknown
}

// sessionKeys are cookie names whose presence marks a usable session.
var sessionKeys = []string{"p_skey", "skey"}

// Renewer obtains a fresh credential blob for uin from outside the core.
type Renewer interface {
	Renew(ctx context.Context, uin string) error
}

// Guard owns the credential blobs stored under Dir as cookies-<uin>.json.
type Guard struct {
	Dir     string
	renewer Renewer
	log     logx.Logger
}

// NewGuard creates a Guard. renewer may be nil, in which case Renew always
// fails.
func NewGuard(dir string, renewer Renewer, log logx.Logger) *Guard {
	return &Guard{Dir: dir, renewer: renewer, log: log}
}

// Path returns the blob path for uin.
func (g *Guard) Path(uin string) string {
	return filepath.Join(g.Dir, "cookies-"+uin+".json")
}

// Validate inspects uin's stored blob.
func (g *Guard) Validate(uin string) Status {
	_, st := g.read(uin)
	return st
}

// Load returns uin's blob for use as transport credential context together
// with its status. The blob is nil unless the status is valid.
func (g *Guard) Load(uin string) (json.RawMessage, Status) {
	return g.read(uin)
}

func (g *Guard) read(uin string) (json.RawMessage, Status) {
	path := g.Path(uin)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Status{State: Missing, Reason: Missing.String()}
	}
	if err != nil {
		g.log.Warn("credential unreadable", logx.String("uin", uin), logx.String("path", path), logx.Err(err))
		return nil, Status{State: Missing, Reason: Missing.String()}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Status{State: Missing, Reason: Missing.String()}
	}

	var blob map[string]any
	if err := json.Unmarshal(data, &blob); err != nil {
		g.log.Error("credential blob malformed",
			logx.String("uin", uin), logx.String("path", path), logx.Err(err))
		return nil, Status{State: Malformed, Reason: Malformed.String()}
	}
	for _, k := range sessionKeys {
		if v, ok := blob[k].(string); ok && v != "" {
			return json.RawMessage(data), Status{State: Usable}
		}
	}
	return json.RawMessage(data), Status{State: Unknown, Reason: Unknown.String()}
}

// Renew asks the renewer for a fresh blob and succeeds only if the result
// validates. Failures are returned, never retried here.
func (g *Guard) Renew(ctx context.Context, uin string) error {
	if g.renewer == nil {
		return fmt.Errorf("credential: renew %s: no renewer configured", uin)
	}
	if err := g.renewer.Renew(ctx, uin); err != nil {
		return fmt.Errorf("credential: renew %s: %w", uin, err)
	}
	if st := g.Validate(uin); !st.Valid() {
		return fmt.Errorf("credential: renew %s: blob still %s after renewal", uin, st.Reason)
	}
	return nil
}
