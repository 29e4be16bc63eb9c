//go:build debug

package assert

const fatal = true
