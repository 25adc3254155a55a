//go:build windows

package state

// Directories cannot be opened for syncing on Windows; rename durability is
// left to the filesystem.
func fsyncDir(string) error { return nil }
