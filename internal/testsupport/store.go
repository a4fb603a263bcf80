package testsupport

import (
	"testing"

	"vidflow/internal/config"
	"vidflow/internal/manifest"
	"vidflow/internal/queue"
)

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenManifests opens the manifest store rooted at cfg.TasksDir().
func MustOpenManifests(t testing.TB, cfg *config.Config) *manifest.FileStore {
	t.Helper()

	store, err := manifest.NewFileStore(cfg.TasksDir())
	if err != nil {
		t.Fatalf("manifest.NewFileStore: %v", err)
	}
	return store
}
