package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request represents a JSON-RPC style request
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int             `json:"id"`
}

// Response represents a JSON-RPC style response
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     int             `json:"id"`
}

// Error represents an API error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Error codes
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	// ErrCodeNotFound means the daemon does not hold the named device.
	ErrCodeNotFound = -32001
	// ErrCodeDevice means the kernel rejected a device operation.
	ErrCodeDevice = -32002
)

// Method names
const (
	MethodStatus        = "status"
	MethodDeviceList    = "device.list"
	MethodDeviceGet     = "device.get"
	MethodDeviceAttr    = "device.attr"
	MethodDeviceSet     = "device.set"
	MethodDeviceUp      = "device.up"
	MethodDeviceDown    = "device.down"
	MethodDevicePersist = "device.persist"
	MethodConfigPath    = "config.path"
)

// NotFound returns the error a StateProvider reports for an unknown device.
func NotFound(name string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("device %q is not managed by the daemon", name)}
}

// IsNotFound reports whether err is a NotFound error, locally created or
// decoded from a response.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeNotFound
}

// StatusResult contains daemon status information
type StatusResult struct {
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	ConfigPath string `json:"config_path"`
	Uptime     string `json:"uptime"`
	Version    string `json:"version,omitempty"`
	Devices    int    `json:"devices"`
	Monitored  int    `json:"monitored"`
}

// DeviceInfo is a snapshot of one managed device
type DeviceInfo struct {
	Name        string `json:"name"`
	Flags       string `json:"flags"`
	Address     string `json:"address,omitempty"`
	Netmask     string `json:"netmask,omitempty"`
	Destination string `json:"destination,omitempty"`
	HWAddr      string `json:"hwaddr,omitempty"`
	MTU         int    `json:"mtu"`
	Up          bool   `json:"up"`
	Persist     bool   `json:"persist"`
	Monitor     bool   `json:"monitor"`
	Packets     uint64 `json:"packets,omitempty"`
}

// DeviceListResult contains every managed device
type DeviceListResult struct {
	Devices []DeviceInfo `json:"devices"`
}

// DeviceParams names a device
type DeviceParams struct {
	Name string `json:"name"`
}

// AttrParams contains parameters for device.attr and device.set
type AttrParams struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// AttrResult contains the text form of one attribute
type AttrResult struct {
	Name  string `json:"name"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PersistParams contains parameters for device.persist
type PersistParams struct {
	Name    string `json:"name"`
	Persist bool   `json:"persist"`
}

// Result is the reply to methods that only report success
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
