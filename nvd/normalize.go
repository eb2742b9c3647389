package nvd

import (
	"github.com/samber/lo"

	"github.com/aquasecurity/vuln-notify/types"
)

const (
	noDescription = "No description available"
	noVector      = "N/A"
	maxReferences = 3
)

type score struct {
	base    float64
	vector  string
	version string
}

// scoringSchemas lists the CVSS metric versions from the most to the least preferred.
// The first schema with at least one metric wins.
var scoringSchemas = []struct {
	version string
	extract func(Metrics) (score, bool)
}{
	{version: "3.1", extract: func(m Metrics) (score, bool) { return fromV3(m.CvssMetricV31) }},
	{version: "3.0", extract: func(m Metrics) (score, bool) { return fromV3(m.CvssMetricV30) }},
	{version: "2.0", extract: func(m Metrics) (score, bool) { return fromV2(m.CvssMetricV2) }},
}

func fromV3(metrics []CvssMetricV3) (score, bool) {
	if len(metrics) == 0 {
		return score{}, false
	}
	data := metrics[0].CvssData
	vector := data.VectorString
	if vector == "" {
		vector = noVector
	}
	return score{base: data.BaseScore, vector: vector}, true
}

// CVSS v2 vectors are not carried over.
func fromV2(metrics []CvssMetricV2) (score, bool) {
	if len(metrics) == 0 {
		return score{}, false
	}
	return score{base: metrics[0].CvssData.BaseScore, vector: noVector}, true
}

func selectScore(m Metrics) score {
	for _, schema := range scoringSchemas {
		if s, ok := schema.extract(m); ok {
			s.version = schema.version
			return s
		}
	}
	return score{vector: noVector}
}

// Normalize converts raw NVD records one to one. Records without an ID are kept;
// callers drop them before deduplication.
func Normalize(vulns []Vulnerability) []types.Vulnerability {
	return lo.Map(vulns, func(v Vulnerability, _ int) types.Vulnerability {
		return normalize(v.Cve)
	})
}

func normalize(cve Cve) types.Vulnerability {
	s := selectScore(cve.Metrics)

	summary := noDescription
	if d, ok := lo.Find(cve.Descriptions, func(d Description) bool { return d.Lang == "en" }); ok {
		summary = d.Value
	}

	refs := cve.References
	if len(refs) > maxReferences {
		refs = refs[:maxReferences]
	}
	links := lo.FilterMap(refs, func(r Reference, _ int) (string, bool) {
		return r.URL, r.URL != ""
	})

	return types.Vulnerability{
		ID:           cve.ID,
		Summary:      summary,
		Score:        s.base,
		Vector:       s.vector,
		ScoreVersion: s.version,
		Published:    cve.Published,
		References:   links,
	}
}
