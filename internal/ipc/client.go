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
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
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

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop(req StopRequest) (*StopResponse, error) {
	return call[StopResponse](c, "Stop", req)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Enqueue adds a manual job for line.
func (c *Client) Enqueue(line string) (*EnqueueResponse, error) {
	return call[EnqueueResponse](c, "Enqueue", EnqueueRequest{Line: line})
}

// Run enqueues a job and blocks until it finishes or times out.
func (c *Client) Run(req RunRequest) (*RunResponse, error) {
	return call[RunResponse](c, "Run", req)
}

// RunAll runs every unpaused line once.
func (c *Client) RunAll(req RunAllRequest) (*RunAllResponse, error) {
	return call[RunAllResponse](c, "RunAll", req)
}

// Cancel cancels a job.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	return call[CancelResponse](c, "Cancel", CancelRequest{ID: id})
}

// Job fetches one job.
func (c *Client) Job(id string) (*JobResponse, error) {
	return call[JobResponse](c, "Job", JobRequest{ID: id})
}

// Jobs lists recent jobs.
func (c *Client) Jobs(req JobsRequest) (*JobsResponse, error) {
	return call[JobsResponse](c, "Jobs", req)
}

// SetSchedule pauses or resumes a line's schedule.
func (c *Client) SetSchedule(line string, enabled bool) (*ScheduleResponse, error) {
	return call[ScheduleResponse](c, "SetSchedule", ScheduleRequest{Line: line, Enabled: enabled})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
