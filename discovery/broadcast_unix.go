//go:build !windows

package discovery

import (
	"net"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying socket, the
// same SyscallConn-driven SetsockoptInt technique the teacher's
// conn/conn_linux.go uses for SO_REUSEADDR/SO_MARK (SPEC_FULL.md §4.5).
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
