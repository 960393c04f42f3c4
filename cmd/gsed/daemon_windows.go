//go:build windows

package main

import "syscall"

// daemonSysProcAttr runs the background process without a console window.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow: true,
	}
}
