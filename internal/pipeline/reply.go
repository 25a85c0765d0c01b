package pipeline

import (
	"fmt"
	"strings"

	"github.com/amaumene/lapis/internal/models"
)

// Section groups the links mirrored from one source URL
type Section struct {
	Header string
	Links  []models.MirrorLink
}

var linkLabels = map[string]string{
	"imgur-image":  "Imgur",
	"direct-video": "Direct video",
}

// FormatReply renders the reply posted under a submission.
// The template may reference {links} and {version}.
func FormatReply(template, version string, sections []Section) string {
	var b strings.Builder
	for _, section := range sections {
		if len(section.Links) == 0 {
			continue
		}
		if section.Header != "" {
			b.WriteString(section.Header)
			b.WriteString("\n\n")
		}
		for _, link := range section.Links {
			fmt.Fprintf(&b, "[%s](%s)  \n", label(link), link.URL)
		}
		b.WriteString("\n")
	}

	links := strings.TrimRight(b.String(), "\n")
	return strings.NewReplacer("{links}", links, "{version}", version).Replace(template)
}

func label(link models.MirrorLink) string {
	if l, ok := linkLabels[link.Kind]; ok {
		return l
	}
	if link.Exporter != "" {
		return link.Exporter
	}
	return "Mirror"
}
