//go:build !windows

package staging

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// isTransient reports errors worth retrying: the destination is locked or
// temporarily not writable.
func isTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, unix.EBUSY) ||
		errors.Is(err, unix.ETXTBSY)
}
