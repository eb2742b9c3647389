package types

// Vulnerability is a CVE record normalized from the upstream feed.
type Vulnerability struct {
	ID           string   `json:"id"`
	Summary      string   `json:"summary"`
	Score        float64  `json:"score"`
	Vector       string   `json:"vector"`
	ScoreVersion string   `json:"score_version,omitempty"`
	Published    string   `json:"published,omitempty"`
	References   []string `json:"references,omitempty"`
}

func (v Vulnerability) Severity() Severity {
	return SeverityOf(v.Score)
}

type Severity struct {
	Label string
	Color int
	Emoji string
}

var (
	SeverityCritical = Severity{Label: "CRITICAL", Color: 0xDC143C, Emoji: "💀"}
	SeverityHigh     = Severity{Label: "HIGH", Color: 0xFF6B35, Emoji: "⚠️"}
	SeverityMedium   = Severity{Label: "MEDIUM", Color: 0xFFB200, Emoji: "🟡"}
	SeverityLow      = Severity{Label: "LOW", Color: 0x2ECC71, Emoji: "🟢"}
)

// SeverityOf maps a CVSS base score to its tier.
func SeverityOf(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
