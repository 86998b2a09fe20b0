package protocol

import (
	"errors"
	"syscall"
)

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// IsClosed reports whether err indicates that the peer closed or reset the
// connection.
func IsClosed(err error) bool {
	return err != nil && isClosed(err)
}
