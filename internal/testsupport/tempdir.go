// Package testsupport holds small helpers shared by package tests across
// the module. Adapted from the teacher's common/testutil.TempDir, with the
// directory-naming scheme swapped from a wall-clock suffix to a uuid, per
// SPEC_FULL.md §6.1.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// TempDir creates a fresh database directory for a test and registers its
// removal on test cleanup.
func TempDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "ikvs-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("testsupport: create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}
