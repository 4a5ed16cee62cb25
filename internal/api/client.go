package api

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a Unix socket API client
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new API client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout sets the connection timeout
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// IsRunning checks if the daemon is running by attempting to connect
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Call sends one request and waits for its response
func (c *Client) Call(method string, params any) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	req := Request{Method: method, ID: 1}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = data
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

// call performs method and decodes the result into T. API errors are
// returned as *Error so callers can inspect the code.
func call[T any](c *Client, method string, params any) (*T, error) {
	resp, err := c.Call(method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result T
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return &result, nil
}

// Status gets the daemon status
func (c *Client) Status() (*StatusResult, error) {
	return call[StatusResult](c, MethodStatus, nil)
}

// Devices lists the devices the daemon holds
func (c *Client) Devices() ([]DeviceInfo, error) {
	result, err := call[DeviceListResult](c, MethodDeviceList, nil)
	if err != nil {
		return nil, err
	}
	return result.Devices, nil
}

// Device describes one held device
func (c *Client) Device(name string) (*DeviceInfo, error) {
	return call[DeviceInfo](c, MethodDeviceGet, DeviceParams{Name: name})
}

// Attr reads one attribute in text form
func (c *Client) Attr(name, key string) (string, error) {
	result, err := call[AttrResult](c, MethodDeviceAttr, AttrParams{Name: name, Key: key})
	if err != nil {
		return "", err
	}
	return result.Value, nil
}

// SetAttr writes one attribute given in text form
func (c *Client) SetAttr(name, key, value string) error {
	_, err := call[Result](c, MethodDeviceSet, AttrParams{Name: name, Key: key, Value: value})
	return err
}

// Up brings a held device up
func (c *Client) Up(name string) error {
	_, err := call[Result](c, MethodDeviceUp, DeviceParams{Name: name})
	return err
}

// Down takes a held device down
func (c *Client) Down(name string) error {
	_, err := call[Result](c, MethodDeviceDown, DeviceParams{Name: name})
	return err
}

// SetPersist toggles persistence of a held device
func (c *Client) SetPersist(name string, persist bool) error {
	_, err := call[Result](c, MethodDevicePersist, PersistParams{Name: name, Persist: persist})
	return err
}

// ConfigPath gets the config file path the daemon was started with
func (c *Client) ConfigPath() (string, error) {
	result, err := call[map[string]string](c, MethodConfigPath, nil)
	if err != nil {
		return "", err
	}
	return (*result)["path"], nil
}
