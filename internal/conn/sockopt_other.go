//go:build !unix

package conn

import "syscall"

func setSockopts(network, address string, rc syscall.RawConn) error {
	return nil
}
