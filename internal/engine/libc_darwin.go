//go:build darwin

package engine

const defaultLibc = "/usr/lib/libSystem.B.dylib"
