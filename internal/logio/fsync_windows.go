//go:build windows

package logio

// fsyncDir is a no-op on Windows: directory entries aren't fsync-able the
// way POSIX directory file descriptors are, and NTFS's own metadata
// journal already covers rename durability.
func fsyncDir(dir string) {}
