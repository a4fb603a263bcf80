package processors

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"vidflow/internal/services"
)

type outputRule struct {
	fragment string
	marker   error
	message  string
}

// classifyCommand maps a command failure to a services marker. Rules are
// matched against the command's captured output, first match wins.
func classifyCommand(stageName, operation string, err error, rules []outputRule) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stageName, operation, "command exceeded the stage timeout", err)
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCanceled, stageName, operation, "command canceled", err)
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, stageName, operation, "binary not found on PATH", err)
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		output := strings.ToLower(cmdErr.Output())
		for _, rule := range rules {
			if strings.Contains(output, rule.fragment) {
				return services.Wrap(rule.marker, stageName, operation, rule.message, err)
			}
		}
	}
	return services.Wrap(services.ErrExternalTool, stageName, operation, "command failed", err)
}

// binaryHealth reports whether binary resolves on PATH.
func binaryHealth(binary string) (string, bool) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return binary + " not found on PATH", false
	}
	return path, true
}
