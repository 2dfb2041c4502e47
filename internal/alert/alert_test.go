package alert

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gfhdhytghd/oqqwall/internal/logx"
)

type recordingSink struct {
	name string
	err  error
	got  []Event
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(ctx context.Context, evt Event) error {
	r.got = append(r.got, evt)
	return r.err
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("boom")}
	buf := new(bytes.Buffer)
	f := NewFanout(0, logx.NewWriter(buf, "debug"), a, b)

	f.Alert(context.Background(), Event{Title: "retry exhausted"})

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("deliveries = %d, %d, want 1, 1", len(a.got), len(b.got))
	}
	if !strings.Contains(buf.String(), "alert delivery failed") {
		t.Errorf("log = %q, want sink failure logged", buf.String())
	}
}

func TestFanout_RateLimit(t *testing.T) {
	s := &recordingSink{name: "s"}
	f := NewFanout(2, logx.Nop(), s)
	for i := 0; i < 5; i++ {
		f.Alert(context.Background(), Event{Title: "x"})
	}
	if len(s.got) != 2 {
		t.Errorf("deliveries = %d, want 2 (burst)", len(s.got))
	}
}

func TestFanout_NoSinks(t *testing.T) {
	f := NewFanout(1, logx.Nop())
	f.Alert(context.Background(), Event{})
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}
}
