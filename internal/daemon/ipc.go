// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// Request types (§4.7, §6 "the daemon IPC wire format").
const (
	RequestCompile      = "compile"
	RequestStatus       = "status"
	RequestStats        = "stats"
	RequestCacheClear   = "cache_clear"
	RequestRegistrySync = "registry_sync"
	RequestAliasList    = "alias_list"
	RequestInspect      = "inspect"
	RequestStop         = "stop"
)

// Request is one newline-delimited JSON IPC request (§6).
type Request struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id,omitempty"`
	Path    string          `json:"path,omitempty"`
	Engine  string          `json:"engine,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is one newline-delimited JSON IPC response (§6).
type Response struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	JobID   string          `json:"job_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CompilePayload is a compile request's payload field.
type CompilePayload struct {
	Source   string `json:"source"`
	MainFile string `json:"main_file"`
}

// CompileResultPayload is a successful compile response's payload field.
type CompileResultPayload struct {
	PDF             []byte `json:"pdf,omitempty"`
	Log             string `json:"log"`
	Engine          string `json:"engine"`
	Reason          string `json:"reason"`
	Confidence      string `json:"confidence"`
	Retries         int    `json:"retries"`
	PackagesFetched int    `json:"packages_fetched"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
}

// InspectResultPayload is a successful "inspect" response's payload field.
type InspectResultPayload struct {
	Bundle string `json:"bundle"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
}

// Server is the daemon's IPC server: one Unix socket, newline-delimited JSON
// request/response pairs, one goroutine per connection (§4.7).
type Server struct {
	listener net.Listener
	handler  func(*Request) *Response
	path     string
}

// NewServer constructs a Server bound to socketPath, dispatching every
// decoded Request to handler.
func NewServer(socketPath string, handler func(*Request) *Response) *Server {
	return &Server{handler: handler, path: socketPath}
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	os.Remove(s.path)
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	s.listener = listener
	os.Chmod(s.path, 0o600)

	go s.accept()
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(s.path)
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024) // a PDF payload can be large
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(&Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		resp := s.handler(&req)
		if resp == nil {
			resp = &Response{OK: false, Error: "no response from handler"}
		}
		enc.Encode(resp)
	}
}

// Client is the daemon IPC client used by the CLI.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Connect dials the daemon's Unix socket at socketPath.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes req as one line of JSON and blocks for the matching response.
func (c *Client) Send(req *Request) (*Response, error) {
	enc := json.NewEncoder(c.conn)
	if err := enc.Encode(req); err != nil {
		return nil, err
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("daemon closed connection")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsDaemonRunning reports whether a daemon is listening on socketPath.
func IsDaemonRunning(socketPath string) bool {
	c, err := Connect(socketPath)
	if err != nil {
		return false
	}
	c.Close()
	return true
}
