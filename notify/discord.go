package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/utils"
)

const (
	discordAPI       = "https://discord.com/api/v10"
	discordUserAgent = "DiscordBot (https://github.com/aquasecurity/vuln-notify, 2.0)"
	discordTimeout   = 10 * time.Second
)

type DiscordOption func(*DiscordBot)

func WithDiscordAPI(baseURL string) DiscordOption {
	return func(d *DiscordBot) { d.baseURL = baseURL }
}

// DiscordBot posts embeds to a channel through the Discord REST API using a bot token.
type DiscordBot struct {
	token     string
	channelID string
	baseURL   string
	timeout   time.Duration
}

func NewDiscordBot(token, channelID string, opts ...DiscordOption) *DiscordBot {
	d := &DiscordBot{
		token:     token,
		channelID: channelID,
		baseURL:   discordAPI,
		timeout:   discordTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type discordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	URL         string              `json:"url"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *DiscordBot) Identity(ctx context.Context) (string, error) {
	b, err := d.do(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return "", xerrors.Errorf("unable to get bot user: %w", err)
	}
	var u discordUser
	if err = json.Unmarshal(b, &u); err != nil {
		return "", xerrors.Errorf("unable to decode bot user: %w", err)
	}
	if u.Discriminator != "" && u.Discriminator != "0" {
		return fmt.Sprintf("%s#%s", u.Username, u.Discriminator), nil
	}
	return u.Username, nil
}

func (d *DiscordBot) Ready(ctx context.Context) error {
	if d.channelID == "" {
		return xerrors.New("discord channel ID is not configured")
	}
	if _, err := d.do(ctx, http.MethodGet, "/channels/"+d.channelID, nil); err != nil {
		return xerrors.Errorf("channel %s not found: %w", d.channelID, err)
	}
	return nil
}

func (d *DiscordBot) Send(ctx context.Context, m Message) error {
	embed := discordEmbed{
		Title:       m.Title,
		Description: m.Description,
		URL:         m.URL,
		Color:       m.Color,
		Timestamp:   m.Timestamp.Format(time.RFC3339),
	}
	for _, f := range m.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if m.Footer != "" {
		embed.Footer = &discordEmbedFooter{Text: m.Footer}
	}

	_, err := d.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", d.channelID), discordMessage{Embeds: []discordEmbed{embed}})
	if err != nil {
		return xerrors.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

func (d *DiscordBot) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := d.baseURL + path
	req := gorequest.New().Timeout(d.timeout).CustomMethod(method, url).
		Set("Authorization", "Bot "+d.token).
		Set("User-Agent", discordUserAgent)
	if payload != nil {
		req = req.Type(gorequest.TypeJSON).SendStruct(payload)
	}

	resp, body, errs := req.EndBytes()
	if len(errs) > 0 {
		return nil, xerrors.Errorf("HTTP error. url: %s, err: %w", url, errs[0])
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &utils.StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return body, nil
}
