//go:build linux

package engine

const defaultLibc = "libc.so.6"
