// Package profile renders OpenVPN client profiles from a template.
package profile

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Template placeholders
const (
	PlaceholderClientName = "{{CLIENT_NAME}}"
	PlaceholderServerHost = "{{SERVER_HOST}}"
	PlaceholderServerPort = "{{SERVER_PORT}}"
	PlaceholderProtocol   = "{{PROTOCOL}}"
)

var placeholderPattern = regexp.MustCompile(`\{\{[A-Za-z0-9_]+\}\}`)

// TemplateError reports a template or parameter set that cannot be rendered
type TemplateError struct {
	Reason string
}

func (e *TemplateError) Error() string {
	return "profile template: " + e.Reason
}

// Params are the values substituted into a profile template
type Params struct {
	ClientName string
	ServerHost string
	ServerPort int
	Protocol   string
}

func (p Params) values() map[string]string {
	port := ""
	if p.ServerPort > 0 {
		port = strconv.Itoa(p.ServerPort)
	}
	return map[string]string{
		PlaceholderClientName: p.ClientName,
		PlaceholderServerHost: p.ServerHost,
		PlaceholderServerPort: port,
		PlaceholderProtocol:   p.Protocol,
	}
}

// Render substitutes every placeholder in tmpl in a single pass. Every
// placeholder must appear in the template, every parameter must be set, and
// the template may not contain unknown placeholders. On failure nothing is
// returned.
func Render(tmpl string, p Params) (string, error) {
	values := p.values()

	oldnew := make([]string, 0, 2*len(values))
	for _, ph := range []string{PlaceholderClientName, PlaceholderServerHost, PlaceholderServerPort, PlaceholderProtocol} {
		v := values[ph]
		if v == "" {
			return "", &TemplateError{Reason: fmt.Sprintf("missing value for %s", ph)}
		}
		if !strings.Contains(tmpl, ph) {
			return "", &TemplateError{Reason: fmt.Sprintf("template has no %s placeholder", ph)}
		}
		oldnew = append(oldnew, ph, v)
	}

	for _, found := range placeholderPattern.FindAllString(tmpl, -1) {
		if _, ok := values[found]; !ok {
			return "", &TemplateError{Reason: fmt.Sprintf("unknown placeholder %s", found)}
		}
	}

	return strings.NewReplacer(oldnew...).Replace(tmpl), nil
}

// LoadTemplate reads a profile template from disk
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read profile template: %w", err)
	}
	return string(data), nil
}
