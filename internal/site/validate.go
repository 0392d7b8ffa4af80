package site

import (
	"regexp"
	"strings"

	"wpdock/internal/domain"
)

var (
	namePattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	pluginPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	maxNameLength      = 40
	maxSubdomainLength = 63
	minPasswordLength  = 8
)

type CreateRequest struct {
	ProjectName   string   `json:"projectName"`
	Subdomain     string   `json:"subdomain"`
	Platform      string   `json:"platform"`
	AdminUsername string   `json:"adminUsername"`
	AdminPassword string   `json:"adminPassword"`
	AdminEmail    string   `json:"adminEmail"`
	Plugins       []string `json:"selectedPlugins"`
}

// Normalize trims fields, derives a missing subdomain from the project
// name and drops empty or repeated plugin slugs.
func (r *CreateRequest) Normalize() {
	r.ProjectName = strings.TrimSpace(r.ProjectName)
	r.Subdomain = strings.TrimSpace(r.Subdomain)
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	r.AdminUsername = strings.TrimSpace(r.AdminUsername)
	r.AdminEmail = strings.TrimSpace(r.AdminEmail)
	if r.Subdomain == "" {
		r.Subdomain = strings.ReplaceAll(r.ProjectName, "_", "-")
	}

	seen := make(map[string]bool, len(r.Plugins))
	plugins := make([]string, 0, len(r.Plugins))
	for _, p := range r.Plugins {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		plugins = append(plugins, p)
	}
	r.Plugins = plugins
}

// Validate checks format only; uniqueness is the registry's call.
func (r CreateRequest) Validate() error {
	switch {
	case r.ProjectName == "":
		return domain.Validationf("projectName is required")
	case len(r.ProjectName) > maxNameLength:
		return domain.Validationf("projectName must be at most %d characters", maxNameLength)
	case !namePattern.MatchString(r.ProjectName):
		return domain.Validationf("projectName may only contain lowercase letters, digits, '-' and '_'")
	case r.Subdomain == "":
		return domain.Validationf("subdomain is required")
	case len(r.Subdomain) > maxSubdomainLength:
		return domain.Validationf("subdomain must be at most %d characters", maxSubdomainLength)
	case !subdomainPattern.MatchString(r.Subdomain):
		return domain.Validationf("subdomain may only contain lowercase letters, digits and single hyphens")
	case r.Platform != "" && r.Platform != domain.PlatformWordPress:
		return domain.Validationf("platform %q is not supported", r.Platform)
	case r.AdminUsername == "":
		return domain.Validationf("adminUsername is required")
	case len(r.AdminPassword) < minPasswordLength:
		return domain.Validationf("adminPassword must be at least %d characters", minPasswordLength)
	case r.AdminEmail != "" && !emailPattern.MatchString(r.AdminEmail):
		return domain.Validationf("adminEmail %q is not a valid address", r.AdminEmail)
	}
	for _, p := range r.Plugins {
		if !ValidPluginSlug(p) {
			return domain.Validationf("plugin %q is not a valid slug", p)
		}
	}
	return nil
}

func ValidPluginSlug(slug string) bool {
	return len(slug) <= 200 && pluginPattern.MatchString(slug)
}
