// Package discord posts operator alerts to a Discord channel as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gfhdhytghd/oqqwall/internal/alert"
)

const (
	maxRetries  = 3
	baseBackoff = 2 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink implements alert.Sink for Discord. Only the REST API is used, so no
// gateway connection is opened.
type Sink struct {
	session     session
	channel     string
	baseBackoff time.Duration
}

// Opts holds parameters for creating a Discord Sink.
type Opts struct {
	Token   string
	Channel string
	// For testing: inject a mock session.
	Session session
}

// New creates a Discord Sink.
func New(opts Opts) (*Sink, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Sink{session: sess, channel: opts.Channel, baseBackoff: baseBackoff}, nil
}

// Name implements alert.Sink.
func (s *Sink) Name() string { return "discord" }

// Send implements alert.Sink.
func (s *Sink) Send(ctx context.Context, evt alert.Event) error {
	embed := eventToEmbed(evt)
	err := s.retryOnRateLimit(ctx, func() error {
		_, sendErr := s.session.ChannelMessageSendEmbed(s.channel, embed, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

func eventToEmbed(evt alert.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
	}
	if evt.Color != "" {
		embed.Color = parseHexColor(evt.Color)
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#rrggbb" to an int. Invalid digits are skipped.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9':
			color = color<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			color = color<<4 | (int(c-'a') + 10)
		case c >= 'A' && c <= 'F':
			color = color<<4 | (int(c-'A') + 10)
		}
	}
	return color
}

func (s *Sink) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * s.baseBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
