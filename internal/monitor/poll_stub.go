//go:build !unix

package monitor

import (
	"time"

	"github.com/postalsys/tunctl/internal/tun"
)

func waitReadable(int, time.Duration) (bool, error) {
	return false, tun.ErrUnsupported
}
