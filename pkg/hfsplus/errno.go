package hfsplus

import (
	"errors"

	"github.com/marmos91/dittohfs/pkg/store/catalog"
	"golang.org/x/sys/unix"
)

// Distinguished enumeration errnos, numbered like the NFS status codes they
// travel as.
const (
	ENOTSYNC   = unix.Errno(522)
	EBADCOOKIE = unix.Errno(523)
)

// Errno maps an engine error to the errno a plugin layer returns. A nil
// error maps to 0 and errors that carry no catalog code to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	code, ok := catalog.CodeOf(err)
	if !ok {
		return unix.EIO
	}
	switch code {
	case catalog.ErrNotFound:
		return unix.ENOENT
	case catalog.ErrAlreadyExists:
		return unix.EEXIST
	case catalog.ErrNotEmpty:
		return unix.ENOTEMPTY
	case catalog.ErrIsDirectory:
		return unix.EISDIR
	case catalog.ErrNotDirectory:
		return unix.ENOTDIR
	case catalog.ErrInvalidArgument:
		return unix.EINVAL
	case catalog.ErrNameTooLong:
		return unix.ENAMETOOLONG
	case catalog.ErrPermission:
		return unix.EPERM
	case catalog.ErrAccessDenied:
		return unix.EACCES
	case catalog.ErrNoSpace:
		return unix.ENOSPC
	case catalog.ErrBusy:
		return unix.EBUSY
	case catalog.ErrRetry:
		return unix.EAGAIN
	case catalog.ErrNotSupported:
		return unix.ENOTSUP
	case catalog.ErrVerifierMismatch:
		return ENOTSYNC
	case catalog.ErrBadCookie:
		return EBADCOOKIE
	case catalog.ErrEndOfDirectory:
		return unix.ENODATA
	default:
		return unix.EIO
	}
}
