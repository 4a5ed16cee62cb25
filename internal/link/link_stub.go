//go:build !linux

package link

import "github.com/postalsys/tunctl/internal/tun"

// List is not supported on this platform.
func List() ([]Info, error) {
	return nil, tun.ErrUnsupported
}

// Lookup is not supported on this platform.
func Lookup(string) (*Info, error) {
	return nil, tun.ErrUnsupported
}
