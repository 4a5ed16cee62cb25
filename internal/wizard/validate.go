package wizard

import (
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/postalsys/tunctl/internal/tun"
)

// Validator is a function that validates a string input and returns an error if invalid.
type Validator func(string) error

// Required returns a validator that ensures the value is not empty.
func Required(fieldName string) Validator {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

// Optional accepts the empty string and defers to v otherwise.
func Optional(v Validator) Validator {
	return func(s string) error {
		if s == "" {
			return nil
		}
		return v(s)
	}
}

// IntRange returns a validator that parses an integer and ensures it is within the given range.
func IntRange(min, max int, fieldName string) Validator {
	return func(s string) error {
		val, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid %s: must be a number", fieldName)
		}
		if val < min || val > max {
			return fmt.Errorf("%s must be between %d and %d", fieldName, min, max)
		}
		return nil
	}
}

// YAMLExtension validates that the string ends with .yaml or .yml extension.
func YAMLExtension() Validator {
	return func(s string) error {
		if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
			return fmt.Errorf("config file should have .yaml or .yml extension")
		}
		return nil
	}
}

// InterfaceName accepts names the kernel can hold and rejects ones already taken.
func InterfaceName(taken []string) Validator {
	return func(s string) error {
		if _, err := tun.NewIfReq(s); err != nil {
			return fmt.Errorf("interface name must be 15 characters or less")
		}
		if slices.Contains(taken, s) {
			return fmt.Errorf("device %s is already configured", s)
		}
		return nil
	}
}

// IPv4 validates a dotted-quad IPv4 address.
func IPv4() Validator {
	return func(s string) error {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("must be an IPv4 address")
		}
		return nil
	}
}

// MAC validates a 6-byte Ethernet address.
func MAC() Validator {
	return func(s string) error {
		mac, err := net.ParseMAC(s)
		if err != nil || len(mac) != tun.HardwareAddrLen {
			return fmt.Errorf("must be a MAC address like 02:00:00:00:00:01")
		}
		return nil
	}
}

// Chain combines multiple validators into one. All validators must pass.
func Chain(validators ...Validator) Validator {
	return func(s string) error {
		for _, v := range validators {
			if err := v(s); err != nil {
				return err
			}
		}
		return nil
	}
}
