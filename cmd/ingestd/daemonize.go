package main

import (
	"os"
	"syscall"
)

// daemonize is the idiomatic-Go substitute for spec.md §4.7's
// fork/umask/openlog/setsid/chdir("/")/close-every-fd sequence
// (SPEC_FULL.md §5.4 Open Question resolution): a real double-fork is
// unreachable from a running Go process, since fork() without exec()
// corrupts the runtime's goroutine scheduler. Setsid detaches the process
// from its controlling terminal so SIGHUP on terminal close does not
// propagate; redirecting stdio to /dev/null mirrors "close every inherited
// fd" without breaking the process's own open files.
func daemonize() error {
	if _, err := syscall.Setsid(); err != nil {
		return err
	}
	if err := syscall.Chdir("/"); err != nil {
		return err
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()
	fd := int(devNull.Fd())
	_ = syscall.Dup2(fd, int(os.Stdin.Fd()))
	_ = syscall.Dup2(fd, int(os.Stdout.Fd()))
	_ = syscall.Dup2(fd, int(os.Stderr.Fd()))
	return nil
}
