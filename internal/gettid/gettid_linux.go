//go:build linux

package gettid

import "golang.org/x/sys/unix"

// Gettid returns the calling thread's kernel thread id.
//
// Goroutines migrate between threads, so the result only identifies the
// thread the caller happened to run on. That is good enough for making
// per-thread file names unique.
func Gettid() int { return unix.Gettid() }
