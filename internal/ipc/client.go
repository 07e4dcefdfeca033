package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddPaths admits files and folders.
func (c *Client) AddPaths(paths []string) (*AddPathsResponse, error) {
	return call[AddPathsResponse](c, "AddPaths", AddPathsRequest{Paths: paths})
}

// List returns the registry view, optionally filtered by status.
func (c *Client) List(statuses []string) (*ListResponse, error) {
	return call[ListResponse](c, "List", ListRequest{Statuses: statuses})
}

// Get returns one tracked file.
func (c *Client) Get(path string) (*FileResponse, error) {
	return call[FileResponse](c, "Get", PathRequest{Path: path})
}

// Scan re-analyzes one file and waits for the result.
func (c *Client) Scan(path string) (*FileResponse, error) {
	return call[FileResponse](c, "Scan", PathRequest{Path: path})
}

// Optimize rewrites one file and waits for the result.
func (c *Client) Optimize(path string) (*OptimizeResponse, error) {
	return call[OptimizeResponse](c, "Optimize", PathRequest{Path: path})
}

// OptimizeAll optimizes every unoptimized file.
func (c *Client) OptimizeAll(wait bool) (*OptimizeAllResponse, error) {
	return call[OptimizeAllResponse](c, "OptimizeAll", OptimizeAllRequest{Wait: wait})
}

// Clear empties the registry, and the probe cache when cache is set.
func (c *Client) Clear(cache bool) (*ClearResponse, error) {
	return call[ClearResponse](c, "Clear", ClearRequest{Cache: cache})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*DaemonStatus, error) {
	return call[DaemonStatus](c, "Status", StatusRequest{})
}

// Stop asks the daemon to shut down.
func (c *Client) Stop(force bool) (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{Force: force})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
