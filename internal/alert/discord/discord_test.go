package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gfhdhytghd/oqqwall/internal/alert"
)

type mockSession struct {
	calls  int
	embeds []*discordgo.MessageEmbed
	errs   []error
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	m.embeds = append(m.embeds, embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestSend_Embed(t *testing.T) {
	ms := &mockSession{}
	s, err := New(Opts{Channel: "123", Session: ms})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Send(context.Background(), alert.Event{
		Title: "transmission failed", Color: "#ff0000",
		Fields: []alert.Field{{Name: "tags", Value: "1,2"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ms.embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(ms.embeds))
	}
	e := ms.embeds[0]
	if e.Title != "transmission failed" || e.Color != 0xff0000 || len(e.Fields) != 1 {
		t.Errorf("embed = %+v", e)
	}
}

func TestSend_RateLimitRetry(t *testing.T) {
	ms := &mockSession{errs: []error{&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}}}
	s, _ := New(Opts{Channel: "123", Session: ms})
	s.baseBackoff = time.Millisecond
	if err := s.Send(context.Background(), alert.Event{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ms.calls != 2 {
		t.Errorf("calls = %d, want 2", ms.calls)
	}
}

func TestSend_NonRateLimitError(t *testing.T) {
	ms := &mockSession{errs: []error{errors.New("missing access")}}
	s, _ := New(Opts{Channel: "123", Session: ms})
	if err := s.Send(context.Background(), alert.Event{}); err == nil {
		t.Fatal("expected error")
	}
	if ms.calls != 1 {
		t.Errorf("calls = %d, want 1", ms.calls)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{"#36a64f": 0x36a64f, "FFFFFF": 0xffffff, "": 0, "#d73a49": 0xd73a49}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Token: "x"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := New(Opts{Channel: "1"}); err == nil {
		t.Error("expected error without token")
	}
}
