package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/cli-auth-broker/pkg/banner"
)

//go:embed templates/info.html.tmpl
var templateFS embed.FS

// PageInfo is the data shown on the info page at GET /.
type PageInfo struct {
	Name         string
	Description  string
	Version      string
	BuildDate    string
	Endpoints    []banner.Endpoint
	Technologies []string
	StartedAt    time.Time
}

// Endpoints lists the public routes. The admin routes are listed only when
// they are registered.
func Endpoints(adminEnabled bool) []banner.Endpoint {
	endpoints := []banner.Endpoint{
		{Method: "GET", Path: "/", Summary: "API information"},
		{Method: "POST", Path: "/auth/cli/start", Summary: "Start a CLI login and return the provider URL"},
		{Method: "GET", Path: "/auth/cli/callback", Summary: "Identity provider redirect target"},
		{Method: "GET", Path: "/auth/cli/status", Summary: "Poll a login; returns credentials once authorized"},
		{Method: "POST", Path: "/auth/cli/renew", Summary: "Exchange a refresh token for fresh credentials"},
		{Method: "GET", Path: "/healthz", Summary: "Liveness probe"},
		{Method: "GET", Path: "/readyz", Summary: "Readiness probe (state store)"},
		{Method: "GET", Path: "/metrics", Summary: "Prometheus metrics"},
	}
	if adminEnabled {
		endpoints = append(endpoints,
			banner.Endpoint{Method: "GET", Path: "/admin/sessions/:sub", Summary: "Inspect a session"},
			banner.Endpoint{Method: "POST", Path: "/admin/sessions/:sub/deactivate", Summary: "Deactivate a session"},
		)
	}
	return endpoints
}

type infoPage struct {
	tmpl *template.Template
	data PageInfo
}

func newInfoPage(data PageInfo) (*infoPage, error) {
	tmpl, err := template.New("info.html.tmpl").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "templates/info.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse info page template: %w", err)
	}
	return &infoPage{tmpl: tmpl, data: data}, nil
}

func (p *infoPage) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, p.data); err != nil {
		return nil, fmt.Errorf("render info page: %w", err)
	}
	return buf.Bytes(), nil
}
