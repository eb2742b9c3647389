package nvd

// Response is a page of the NVD CVE API 2.0.
type Response struct {
	ResultsPerPage  int             `json:"resultsPerPage"`
	StartIndex      int             `json:"startIndex"`
	TotalResults    int             `json:"totalResults"`
	Format          string          `json:"format"`
	Version         string          `json:"version"`
	Timestamp       string          `json:"timestamp"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type Vulnerability struct {
	Cve Cve `json:"cve"`
}

type Cve struct {
	ID               string        `json:"id"`
	SourceIdentifier string        `json:"sourceIdentifier,omitempty"`
	Published        string        `json:"published,omitempty"`
	LastModified     string        `json:"lastModified,omitempty"`
	VulnStatus       string        `json:"vulnStatus,omitempty"`
	Descriptions     []Description `json:"descriptions,omitempty"`
	Metrics          Metrics       `json:"metrics"`
	References       []Reference   `json:"references,omitempty"`
}

type Description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

type Metrics struct {
	CvssMetricV31 []CvssMetricV3 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssMetricV3 `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []CvssMetricV2 `json:"cvssMetricV2,omitempty"`
}

type CvssMetricV3 struct {
	Source              string     `json:"source,omitempty"`
	Type                string     `json:"type,omitempty"`
	CvssData            CvssDataV3 `json:"cvssData"`
	ExploitabilityScore float64    `json:"exploitabilityScore,omitempty"`
	ImpactScore         float64    `json:"impactScore,omitempty"`
}

type CvssDataV3 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity,omitempty"`
}

type CvssMetricV2 struct {
	Source              string     `json:"source,omitempty"`
	Type                string     `json:"type,omitempty"`
	CvssData            CvssDataV2 `json:"cvssData"`
	BaseSeverity        string     `json:"baseSeverity,omitempty"`
	ExploitabilityScore float64    `json:"exploitabilityScore,omitempty"`
	ImpactScore         float64    `json:"impactScore,omitempty"`
}

type CvssDataV2 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
}
