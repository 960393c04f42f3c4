//go:build !windows

package main

import "syscall"

// daemonSysProcAttr detaches the background process from the terminal's
// session.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
