// Package notify delivers the private-message fallback to senders who asked
// for anonymity and therefore get no @-mention in the post.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Message is one private notification.
type Message struct {
	Group  string
	Sender string
	Tags   []int64
	Text   string
}

// Notifier sends a private message to a sender.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Command runs a shell command template per message, e.g.
// "./sendmsg.sh {{.Sender}} '{{.Text}}'".
type Command struct {
	Template string
	Timeout  time.Duration
}

// Notify implements Notifier.
func (c Command) Notify(ctx context.Context, msg Message) error {
	if c.Template == "" {
		return nil
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateMessage(c.Template, msg))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateMessage replaces placeholders in the command template with message values.
func templateMessage(command string, msg Message) string {
	tags := make([]string, len(msg.Tags))
	for i, t := range msg.Tags {
		tags[i] = strconv.FormatInt(t, 10)
	}
	r := strings.NewReplacer(
		"{{.Group}}", msg.Group,
		"{{.Sender}}", msg.Sender,
		"{{.Tags}}", strings.Join(tags, ","),
		"{{.Text}}", msg.Text,
	)
	return r.Replace(command)
}
