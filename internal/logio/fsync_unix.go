//go:build !windows

package logio

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsyncDir fsyncs the directory itself after an atomic rename, so the
// rename's durability doesn't depend on the containing directory entry
// reaching disk on its own schedule. Best-effort: some filesystems
// (notably network filesystems, or a sandboxed test environment) reject
// fsync on a directory descriptor, which is not itself a reason to fail
// the compaction that already completed.
func fsyncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = unix.Fsync(int(f.Fd()))
}
