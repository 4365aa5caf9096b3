/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package banner renders the broker's startup banner.
package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Endpoint is one line of the endpoint listing.
type Endpoint struct {
	Method  string
	Path    string
	Summary string
}

// Info is everything the banner shows.
type Info struct {
	Title        string
	Name         string
	Version      string
	Description  string
	ListenAddr   string
	Endpoints    []Endpoint
	Technologies []string
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Border(lipgloss.RoundedBorder()).Padding(0, 2)
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	headingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	methodStyle   = lipgloss.NewStyle().Bold(true).Width(7)
	summaryStyle  = lipgloss.NewStyle().Faint(true)
	techStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dividerLength = 60
)

// Render returns the banner as a string.
func Render(info Info) string {
	var b strings.Builder

	title := info.Title
	if title == "" {
		title = info.Name
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	meta := []string{
		fmt.Sprintf("Package: %s", info.Name),
		fmt.Sprintf("Version: %s", info.Version),
	}
	if info.Description != "" {
		meta = append(meta, fmt.Sprintf("Description: %s", info.Description))
	}
	if info.ListenAddr != "" {
		meta = append(meta, fmt.Sprintf("Listening: http://%s", info.ListenAddr))
	}
	b.WriteString(metaStyle.Render(strings.Join(meta, "\n")))
	b.WriteString("\n")

	if len(info.Endpoints) > 0 {
		pathWidth := 0
		for _, e := range info.Endpoints {
			pathWidth = max(pathWidth, lipgloss.Width(e.Path))
		}
		pathStyle := lipgloss.NewStyle().Width(pathWidth + 2)

		b.WriteString("\n")
		b.WriteString(headingStyle.Render("Available Endpoints:"))
		b.WriteString("\n")
		for _, e := range info.Endpoints {
			b.WriteString("  ")
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
				methodStyle.Render(e.Method),
				pathStyle.Render(e.Path),
				summaryStyle.Render(e.Summary),
			))
			b.WriteString("\n")
		}
	}

	if len(info.Technologies) > 0 {
		b.WriteString("\n")
		b.WriteString(techStyle.Render("Technologies: " + strings.Join(info.Technologies, ", ")))
		b.WriteString("\n")
	}

	b.WriteString(strings.Repeat("-", dividerLength))
	b.WriteString("\n")
	return b.String()
}

// Fprint writes the rendered banner to w.
func Fprint(w io.Writer, info Info) error {
	_, err := io.WriteString(w, Render(info))
	return err
}
