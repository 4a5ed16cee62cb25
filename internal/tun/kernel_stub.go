//go:build !linux

package tun

import (
	"fmt"
	"runtime"
)

type systemKernel struct{}

func unsupported() error {
	return fmt.Errorf("%w, current platform: %s", ErrUnsupported, runtime.GOOS)
}

// Open returns an error on non-Linux platforms
func (systemKernel) Open(path string) (File, error) { return nil, unsupported() }

func (systemKernel) SetInterface(f File, req *IfReq) error { return unsupported() }

func (systemKernel) SetPersist(f File, persist bool) error { return unsupported() }

func (systemKernel) Socket() (Socket, error) { return nil, unsupported() }
