// Package vmservice talks to the remote process's service protocol: a
// JSON-RPC 2.0 exchange over a single websocket connection. The two
// calls this project needs are getVM (lists the executable isolates)
// and reloadSources (asks one isolate to reload its code).
package vmservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultURL is the well-known local service endpoint.
const DefaultURL = "ws://localhost:8181/ws"

const writeTimeout = 10 * time.Second

type wsDialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

var dialer wsDialer = websocket.DefaultDialer

// Isolate is one reloadable execution target inside the remote process.
type Isolate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReloadResult is the remote's verdict on a reload request.
type ReloadResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a structured error returned by the remote service.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a connected service session. Calls may be issued from
// multiple goroutines; responses are matched to requests by ID.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	closed  bool
	lastErr error
}

// Dial connects to the service endpoint. An empty URL means DefaultURL.
func Dial(url string) (*Client, error) {
	if url == "" {
		url = DefaultURL
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial reload service %q: %w", url, err)
	}
	client := &Client{
		conn:    conn,
		pending: make(map[string]chan rpcResponse),
	}
	go client.readLoop()
	return client, nil
}

func (c *Client) readLoop() {
	for {
		var response rpcResponse
		if err := c.conn.ReadJSON(&response); err != nil {
			c.shutdown(fmt.Errorf("reload service connection lost: %w", err))
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[response.ID]
		if ok {
			delete(c.pending, response.ID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- response
		}
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.lastErr = err
	waiters := c.pending
	c.pending = make(map[string]chan rpcResponse)
	c.mu.Unlock()

	for _, waiter := range waiters {
		close(waiter)
	}
	_ = c.conn.Close()
}

// Close tears the session down. Outstanding calls fail.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.shutdown(errors.New("reload service client closed"))
	return nil
}

// Call issues one request and waits for its response. There is no
// timeout: a hung remote hangs the caller.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	if c == nil {
		return nil, errors.New("reload service client is nil")
	}

	id := uuid.NewString()
	waiter := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		err := c.lastErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = waiter
	c.mu.Unlock()

	request := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeRequest(request); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	response, ok := <-waiter
	if !ok {
		c.mu.Lock()
		err := c.lastErr
		c.mu.Unlock()
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, response.Error)
	}
	return response.Result, nil
}

func (c *Client) writeRequest(request rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(request)
}

// ListIsolates returns the remote's executable isolates in the order
// the service reports them.
func (c *Client) ListIsolates() ([]Isolate, error) {
	raw, err := c.Call("getVM", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Isolates []Isolate `json:"isolates"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode getVM response: %w", err)
	}
	return payload.Isolates, nil
}

// ReloadSources asks one isolate to reload its code.
func (c *Client) ReloadSources(isolateID string) (ReloadResult, error) {
	if isolateID == "" {
		return ReloadResult{}, errors.New("isolate id is required")
	}
	raw, err := c.Call("reloadSources", map[string]string{"isolateId": isolateID})
	if err != nil {
		return ReloadResult{}, err
	}
	var result ReloadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ReloadResult{}, fmt.Errorf("decode reloadSources response: %w", err)
	}
	return result, nil
}
