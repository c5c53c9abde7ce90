//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package input

import "golang.org/x/term"

// enterCbreak falls back to raw mode where termios is unavailable.
func enterCbreak(fd int) (func() error, error) {
	st, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error {
		return term.Restore(fd, st)
	}, nil
}
