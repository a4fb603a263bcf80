package stage

import "strings"

// Health is a processor's readiness as reported on /api/status.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy joins the reasons a processor cannot run.
func Unhealthy(name string, reasons ...string) Health {
	return Health{Name: name, Detail: strings.Join(reasons, "; ")}
}

// AllReady reports whether every processor is ready. An empty set is not.
func AllReady(checks []Health) bool {
	if len(checks) == 0 {
		return false
	}
	for _, check := range checks {
		if !check.Ready {
			return false
		}
	}
	return true
}
