package models

import "slices"

// Employment types accepted in extracted job data.
const (
	EmploymentFullTime = "full-time"
	EmploymentPartTime = "part-time"
)

// Remote policies accepted in extracted job data.
const (
	RemotePolicyRemote   = "remote"
	RemotePolicyInOffice = "in-office"
	RemotePolicyHybrid   = "hybrid"
)

// JobData is the structured job posting produced by the extraction stage.
// Fields the source page does not state are left empty and omitted.
type JobData struct {
	CompanyName    string   `json:"companyName,omitempty"`
	Position       string   `json:"position,omitempty"`
	Description    string   `json:"description,omitempty"`
	CompanyLogoURL string   `json:"companyLogoUrl,omitempty"`
	EmploymentType string   `json:"employmentType,omitempty"`
	RemotePolicy   string   `json:"remotePolicy,omitempty"`
	Technologies   []string `json:"technologies,omitempty"`
}

// Clone returns a copy that does not share the technologies slice.
func (d JobData) Clone() JobData {
	d.Technologies = slices.Clone(d.Technologies)
	return d
}

// PageMeta holds document metadata sniffed from the raw page before
// normalization strips attributes. It gives the extraction prompt
// hints (logo, title) that cleaned content no longer carries.
type PageMeta struct {
	Title        string `json:"title,omitempty"`
	OGTitle      string `json:"ogTitle,omitempty"`
	OGImage      string `json:"ogImage,omitempty"`
	SiteName     string `json:"siteName,omitempty"`
	CanonicalURL string `json:"canonicalUrl,omitempty"`
}

// Empty reports whether no metadata was found.
func (m PageMeta) Empty() bool {
	return m == PageMeta{}
}
