// Package urlcheck validates submitted source URLs before a flow is created.
package urlcheck

import (
	"net/url"
	"regexp"
	"strings"

	"vidflow/internal/services"
)

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var youtubeHosts = map[string]struct{}{
	"youtube.com":       {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// Source is a validated, normalized source URL.
type Source struct {
	URL      string
	Host     string
	VideoID  string
	Platform string
}

// Validator checks URLs against an allow list of hosts. Subdomains of an
// allowed host are accepted.
type Validator struct {
	allowed []string
}

// New returns a validator for hosts (for example cfg.Flow.AllowedHosts).
func New(hosts []string) *Validator {
	allowed := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
		if h != "" {
			allowed = append(allowed, h)
		}
	}
	return &Validator{allowed: allowed}
}

// Validate parses raw and returns the normalized source. Every failure wraps
// services.ErrValidation.
func (v *Validator) Validate(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, invalid("URL is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Source{}, invalid("Invalid URL", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return Source{}, invalid("Invalid URL: only http and https are supported", nil)
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if host == "" {
		return Source{}, invalid("Invalid URL: missing host", nil)
	}
	if !v.allowedHost(host) {
		return Source{}, services.Wrap(services.ErrUnsupported, "submit", "validate url",
			"Unsupported URL: host "+host+" is not in the allowed list", nil)
	}

	src := Source{URL: parsed.String(), Host: host, Platform: platform(host)}
	if _, ok := youtubeHosts[host]; ok {
		id, ok := extractYouTubeID(host, parsed)
		if !ok {
			return Source{}, invalid("Invalid YouTube URL", nil)
		}
		src.VideoID = id
		src.URL = "https://www.youtube.com/watch?v=" + id
	}
	return src, nil
}

func (v *Validator) allowedHost(host string) bool {
	for _, allowed := range v.allowed {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func extractYouTubeID(host string, u *url.URL) (string, bool) {
	path := strings.Trim(u.Path, "/")
	var candidate string
	switch {
	case host == "youtu.be":
		candidate = strings.SplitN(path, "/", 2)[0]
	case path == "watch":
		candidate = u.Query().Get("v")
	case strings.HasPrefix(path, "shorts/"), strings.HasPrefix(path, "embed/"), strings.HasPrefix(path, "live/"), strings.HasPrefix(path, "v/"):
		parts := strings.SplitN(path, "/", 3)
		if len(parts) >= 2 {
			candidate = parts[1]
		}
	}
	if !youtubeID.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

func platform(host string) string {
	if _, ok := youtubeHosts[host]; ok {
		return "youtube"
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}

func invalid(message string, err error) error {
	return services.Wrap(services.ErrValidation, "submit", "validate url", message, err)
}
