package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/utils"
)

// slackAuthErrors are auth.test failures that retrying won't fix.
var slackAuthErrors = []string{"invalid_auth", "not_authed", "account_inactive", "token_revoked"}

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// Slack posts attachments to a Slack channel with a bot token.
type Slack struct {
	client    *slack.Client
	channelID string
}

func NewSlack(token, channelID string, opts ...slack.Option) *Slack {
	return &Slack{
		client:    slack.New(token, opts...),
		channelID: channelID,
	}
}

func (s *Slack) Identity(ctx context.Context) (string, error) {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		var se slack.SlackErrorResponse
		if xerrors.As(err, &se) && slices.Contains(slackAuthErrors, se.Err) {
			return "", xerrors.Errorf("slack auth test failed (%s): %w", se.Err,
				&utils.StatusError{StatusCode: http.StatusUnauthorized, URL: "auth.test"})
		}
		return "", xerrors.Errorf("slack auth test failed: %w", err)
	}
	return resp.User, nil
}

func (s *Slack) Ready(ctx context.Context) error {
	if s.channelID == "" {
		return xerrors.New("slack channel ID is not configured")
	}
	_, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: s.channelID})
	if err != nil {
		return xerrors.Errorf("channel %s not found: %w", s.channelID, err)
	}
	return nil
}

func (s *Slack) Send(ctx context.Context, m Message) error {
	attachment := slack.Attachment{
		Color:      fmt.Sprintf("#%06X", m.Color),
		Title:      m.Title,
		TitleLink:  m.URL,
		Text:       m.Description,
		Footer:     m.Footer,
		Ts:         json.Number(strconv.FormatInt(m.Timestamp.Unix(), 10)),
		MarkdownIn: []string{"text", "fields"},
	}
	for _, f := range m.Fields {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: f.Name,
			Value: slackMarkdown(f.Value),
			Short: f.Inline,
		})
	}

	if _, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionAttachments(attachment)); err != nil {
		return xerrors.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

// slackMarkdown rewrites bold and links into Slack mrkdwn.
func slackMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "*")
	return markdownLink.ReplaceAllString(s, "<$2|$1>")
}
