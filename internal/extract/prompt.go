package extract

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/jobingest/internal/models"
)

const systemPrompt = `You are an expert data extraction model.
Parse the job posting HTML you are given and answer with one JSON object matching this schema exactly.
Output raw JSON only. No markdown, no explanations.

Schema:
{
  "companyName": "string | null",
  "position": "string | null",
  "description": "string | null",
  "companyLogoUrl": "string | null",
  "employmentType": "full-time | part-time | null",
  "remotePolicy": "remote | in-office | hybrid | null",
  "technologies": ["string"]
}

Guidelines:
- companyName: the company offering the position, taken from the posting header, company info block or page title. null when uncertain.
- position: the job title, usually the main heading. Strip appended location or company names.
- description: responsibilities, requirements, qualifications and culture. Drop boilerplate such as "Apply now" or privacy notices. Summarize postings longer than 1000 words while keeping every responsibility and qualification.
- companyLogoUrl: an absolute URL of the company logo. Prefer the og:image given in the page metadata. null when there is no clear logo.
- employmentType: "full-time" or "part-time" only when the posting says so. Do not infer it from seniority or tone.
- remotePolicy: "remote" when fully remote, "hybrid" for a mix of office and remote days, "in-office" when on-site. null when unclear.
- technologies: tools, programming languages, platforms and methodologies named explicitly (for example React, Python, Jira, AWS, Scrum). Unique entries with proper capitalization. Leave out generic nouns.

Never fabricate or guess. A field that is missing or unclear is null.`

// userPrompt embeds the page metadata (when known) and the cleaned HTML.
func userPrompt(cleanedHTML string, meta *models.PageMeta) string {
	var b strings.Builder
	if meta != nil && !meta.Empty() {
		b.WriteString("Page metadata:\n")
		line := func(name, value string) {
			if value != "" {
				fmt.Fprintf(&b, "- %s: %s\n", name, value)
			}
		}
		line("title", meta.Title)
		line("og:title", meta.OGTitle)
		line("og:site_name", meta.SiteName)
		line("og:image", meta.OGImage)
		line("canonical", meta.CanonicalURL)
		b.WriteString("\n")
	}
	b.WriteString("Job posting HTML:\n")
	b.WriteString(cleanedHTML)
	return b.String()
}
