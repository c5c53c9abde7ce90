//go:build linux || darwin || freebsd || netbsd || openbsd

package input

import "golang.org/x/sys/unix"

// enterCbreak disables line buffering and echo but, unlike raw mode, keeps
// output processing and signals, so log lines and Ctrl-C behave normally.
func enterCbreak(fd int) (func() error, error) {
	old, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, err
	}

	t := *old
	t.Lflag &^= unix.ICANON | unix.ECHO
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, &t); err != nil {
		return nil, err
	}

	return func() error {
		return unix.IoctlSetTermios(fd, ioctlWriteTermios, old)
	}, nil
}
