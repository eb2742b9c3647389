package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/aquasecurity/vuln-notify/types"
)

const (
	detailURL         = "https://nvd.nist.gov/vuln/detail/%s"
	source            = "NIST NVD"
	maxDescription    = 1900
	maxReferenceLinks = 2
	unknownID         = "CVE-UNKNOWN"
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a destination-agnostic rich notification. Field values use
// Discord flavored markdown; destinations translate as needed.
type Message struct {
	Title       string
	Description string
	URL         string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

// NewMessage renders the notification for a single CVE.
func NewMessage(v types.Vulnerability, now time.Time) Message {
	id := v.ID
	if id == "" {
		id = unknownID
	}
	sev := v.Severity()

	m := Message{
		Title:       fmt.Sprintf("%s %s • %s", sev.Emoji, id, sev.Label),
		Description: fmt.Sprintf("```%s```", truncate(v.Summary, maxDescription)),
		URL:         fmt.Sprintf(detailURL, id),
		Color:       sev.Color,
		Footer:      fmt.Sprintf("Source: %s • %s %s", source, sev.Emoji, sev.Label),
		Timestamp:   now.UTC(),
	}

	m.Fields = append(m.Fields, Field{
		Name:   "Severity",
		Value:  fmt.Sprintf("**%s**\n`%.1f/10.0`", sev.Label, v.Score),
		Inline: true,
	})
	if v.Vector != "" {
		name := "CVSS Vector"
		if v.ScoreVersion != "" {
			name = fmt.Sprintf("CVSS %s Vector", v.ScoreVersion)
		}
		m.Fields = append(m.Fields, Field{Name: name, Value: fmt.Sprintf("`%s`", v.Vector), Inline: true})
	}
	if v.Published != "" {
		m.Fields = append(m.Fields, Field{Name: "Published", Value: fmt.Sprintf("`%s`", publishedDate(v.Published)), Inline: true})
	}
	if len(v.References) > 0 {
		var links []string
		for i, u := range v.References {
			if i == maxReferenceLinks {
				break
			}
			links = append(links, fmt.Sprintf("[Reference %d](%s)", i+1, u))
		}
		m.Fields = append(m.Fields, Field{Name: "References", Value: strings.Join(links, "\n")})
	}
	return m
}

func publishedDate(published string) string {
	if t, err := dateparse.ParseAny(published); err == nil {
		return t.Format("2006-01-02")
	}
	if len(published) > 10 {
		return published[:10]
	}
	return published
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
