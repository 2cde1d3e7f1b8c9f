//go:build !unix

package server

import "syscall"

// The runtime already sets SO_REUSEADDR where it matters on these platforms.
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}

var errAddrInUse error = syscall.EADDRINUSE
