package credential

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRenewer runs an external login helper. Template placeholders:
// {uin} and {path} (the blob path the helper must write).
type CommandRenewer struct {
	Template string
	Dir      string
	Timeout  time.Duration
}

// Renew runs the helper and waits for it to exit.
func (r CommandRenewer) Renew(ctx context.Context, uin string) error {
	if strings.TrimSpace(r.Template) == "" {
		return fmt.Errorf("renewal command is not configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	g := Guard{Dir: r.Dir}
	cmdStr := strings.NewReplacer(
		"{uin}", uin,
		"{path}", g.Path(uin),
	).Replace(r.Template)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("renewal command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
