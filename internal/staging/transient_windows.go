//go:build windows

package staging

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/windows"
)

// isTransient reports errors worth retrying: the destination is open in
// another process (Excel keeps CSVs locked) or temporarily denied.
func isTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
