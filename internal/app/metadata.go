// internal/app/metadata.go
package app

import "strings"

// DossierMetadata holds the fields picked out of the generated markdown dossiers.
type DossierMetadata struct {
	Email    *string
	Headline *string
	Industry *string
	Website  *string
}

// ExtractDossierMetadata reads "**Email**:" and "**Headline**:" lines from the person dossier
// and "- **Industry**:" and "- **Website**:" lines from the company dossier. A website written
// as a markdown link yields the link text.
func ExtractDossierMetadata(personDossier, companyDossier string) DossierMetadata {
	var m DossierMetadata
	for _, line := range strings.Split(personDossier, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := fieldValue(line, "**Email**:"); ok {
			m.Email = &v
		} else if v, ok := fieldValue(line, "**Headline**:"); ok {
			m.Headline = &v
		}
	}
	for _, line := range strings.Split(companyDossier, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := fieldValue(line, "- **Industry**:"); ok {
			m.Industry = &v
		} else if v, ok := fieldValue(line, "- **Website**:"); ok {
			v = markdownLinkText(v)
			m.Website = &v
		}
	}
	return m
}

func fieldValue(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
}

// markdownLinkText turns "[example.com](https://example.com)" into "example.com".
func markdownLinkText(v string) string {
	start := strings.Index(v, "[")
	end := strings.Index(v, "](")
	if start < 0 || end <= start {
		return v
	}
	return v[start+1 : end]
}
