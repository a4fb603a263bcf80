package deps

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	"vidflow/internal/config"
)

// DirectoryStatus reports whether a configured directory is usable by the
// daemon.
type DirectoryStatus struct {
	Name   string
	Path   string
	Ready  bool
	Detail string
}

// CheckDirectories verifies the data, tasks and log directories.
func CheckDirectories(cfg *config.Config) []DirectoryStatus {
	if cfg == nil {
		return nil
	}
	return []DirectoryStatus{
		CheckDirectory("Data", cfg.Paths.DataDir),
		CheckDirectory("Tasks", cfg.TasksDir()),
		CheckDirectory("Logs", cfg.Paths.LogDir),
	}
}

// CheckDirectory verifies that path exists, is a directory and is readable,
// writable and searchable by this process.
func CheckDirectory(name, path string) DirectoryStatus {
	status := DirectoryStatus{Name: name, Path: path}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status.Detail = "does not exist"
		return status
	case err != nil:
		status.Detail = fmt.Sprintf("stat: %v", err)
		return status
	case !info.IsDir():
		status.Detail = "not a directory"
		return status
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		status.Detail = fmt.Sprintf("insufficient permissions: %v", err)
		return status
	}
	status.Ready = true
	status.Detail = "read/write ok"
	return status
}
