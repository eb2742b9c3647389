package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/notify"
	"github.com/aquasecurity/vuln-notify/utils"
)

func newDiscordServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot my_token", r.Header.Get("Authorization"))
		h, ok := handlers[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
}

func TestDiscordBot_Identity(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "new username", body: `{"id":"1","username":"vulnsbot","discriminator":"0"}`, want: "vulnsbot"},
		{name: "legacy discriminator", body: `{"id":"1","username":"vulnsbot","discriminator":"1234"}`, want: "vulnsbot#1234"},
		{name: "broken body", body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newDiscordServer(t, map[string]http.HandlerFunc{
				"GET /users/@me": func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(tt.body))
				},
			})
			defer ts.Close()

			bot := notify.NewDiscordBot("my_token", "12345", notify.WithDiscordAPI(ts.URL))
			got, err := bot.Identity(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscordBot_Identity_Unauthorized(t *testing.T) {
	ts := newDiscordServer(t, map[string]http.HandlerFunc{
		"GET /users/@me": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"401: Unauthorized","code":0}`))
		},
	})
	defer ts.Close()

	_, err := notify.NewDiscordBot("my_token", "12345", notify.WithDiscordAPI(ts.URL)).Identity(context.Background())
	require.Error(t, err)
	var se *utils.StatusError
	require.True(t, xerrors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestDiscordBot_Ready(t *testing.T) {
	ts := newDiscordServer(t, map[string]http.HandlerFunc{
		"GET /channels/12345": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"12345","name":"security"}`))
		},
	})
	defer ts.Close()

	assert.NoError(t, notify.NewDiscordBot("my_token", "12345", notify.WithDiscordAPI(ts.URL)).Ready(context.Background()))

	err := notify.NewDiscordBot("my_token", "99999", notify.WithDiscordAPI(ts.URL)).Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel 99999 not found")

	assert.Error(t, notify.NewDiscordBot("my_token", "", notify.WithDiscordAPI(ts.URL)).Ready(context.Background()))
}

func TestDiscordBot_Send(t *testing.T) {
	var got map[string]interface{}
	ts := newDiscordServer(t, map[string]http.HandlerFunc{
		"POST /channels/12345/messages": func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
			b, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(b, &got))
			_, _ = w.Write([]byte(`{"id":"msg_1"}`))
		},
	})
	defer ts.Close()

	bot := notify.NewDiscordBot("my_token", "12345", notify.WithDiscordAPI(ts.URL))
	err := bot.Send(context.Background(), notify.Message{
		Title:       "💀 CVE-2024-0005 • CRITICAL",
		Description: "```overflow```",
		URL:         "https://nvd.nist.gov/vuln/detail/CVE-2024-0005",
		Color:       0xDC143C,
		Fields:      []notify.Field{{Name: "Severity", Value: "**CRITICAL**", Inline: true}},
		Footer:      "Source: NIST NVD • 💀 CRITICAL",
		Timestamp:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	embeds, ok := got["embeds"].([]interface{})
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]interface{})
	assert.Equal(t, "💀 CVE-2024-0005 • CRITICAL", embed["title"])
	assert.Equal(t, float64(0xDC143C), embed["color"])
	assert.Equal(t, "2024-06-01T12:00:00Z", embed["timestamp"])
	assert.Equal(t, "Source: NIST NVD • 💀 CRITICAL", embed["footer"].(map[string]interface{})["text"])
	fields := embed["fields"].([]interface{})
	require.Len(t, fields, 1)
	assert.Equal(t, "Severity", fields[0].(map[string]interface{})["name"])
}

func TestDiscordBot_Send_Error(t *testing.T) {
	ts := newDiscordServer(t, map[string]http.HandlerFunc{
		"POST /channels/12345/messages": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})
	defer ts.Close()

	bot := notify.NewDiscordBot("my_token", "12345", notify.WithDiscordAPI(ts.URL))
	err := bot.Send(context.Background(), notify.Message{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code: 429")
}
