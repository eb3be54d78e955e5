package dispatch

import (
	"strings"

	"github.com/nimasrn/video-report/internal/model"
)

const (
	placeholderName = ":name"
	placeholderLink = ":linkvideo"
)

// RenderMessage fills the report's WA template for one recipient. An empty
// template falls back to the default one.
func RenderMessage(template, name, link string) string {
	if strings.TrimSpace(template) == "" {
		template = model.DefaultWaMessageTemplate
	}
	r := strings.NewReplacer(placeholderLink, link, placeholderName, name)
	return r.Replace(template)
}
