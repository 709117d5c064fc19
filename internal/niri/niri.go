// Package niri implements a minimal client for the niri compositor's
// IPC socket (SPEC_FULL.md §7.1's supplemented workspace-awareness
// collaborator, grounded on original_source/src/backend/niri.rs): query
// the current workspace list, subscribe to workspace events, and drain
// those events without ever blocking the event pump's single goroutine.
package niri

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Workspace mirrors the original's Workspace struct: one compositor
// workspace and whether it currently holds focus.
type Workspace struct {
	ID       uint64  `json:"id"`
	Name     *string `json:"name,omitempty"`
	IsFocused bool   `json:"is_focused"`
	IsActive  bool   `json:"is_active"`
}

// Event is one decoded niri IPC event. Kind is the event's wire tag
// ("WorkspaceActivated", "WorkspacesChanged", ...); wayvid doesn't act on
// workspace switches today, so the remaining fields are carried through
// as raw JSON for whatever future rule wants them.
type Event struct {
	Kind string
	Raw  json.RawMessage
}

// eventKinds are the tags the background read loop treats as unsolicited
// events rather than responses to an outstanding request.
var eventKinds = map[string]bool{
	"WorkspaceActivated": true,
	"WorkspacesChanged":  true,
}

// Client is a connection to a niri compositor's IPC socket. All reads
// happen on a background goroutine: unsolicited events are queued for
// TryReadEvent/ReadEvent, while responses to Workspaces/Subscribe are
// routed back to the waiting caller.
type Client struct {
	conn net.Conn

	events chan Event
	errc   chan error
	done   chan struct{}

	reqMu      sync.Mutex // serializes request/response round trips
	pendingMu  sync.Mutex // guards pending against readLoop's concurrent access
	pending    chan json.RawMessage
}

// Connect dials the niri IPC socket at sock (normally read from the
// NIRI_SOCKET environment variable by the caller) and starts the
// background read loop. It does not subscribe to events on its own;
// call Subscribe once connected.
func Connect(sock string) (*Client, error) {
	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial niri socket %q: %w", sock, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 32),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var tagged struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &tagged); err != nil {
			// A malformed line from niri shouldn't take down workspace
			// integration; skip it and keep reading.
			continue
		}

		raw := make(json.RawMessage, len(line))
		copy(raw, line)

		if !eventKinds[tagged.Type] {
			c.pendingMu.Lock()
			pending := c.pending
			c.pendingMu.Unlock()
			if pending != nil {
				select {
				case pending <- raw:
				default:
				}
			}
			continue
		}

		select {
		case c.events <- Event{Kind: tagged.Type, Raw: raw}:
		case <-c.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case c.errc <- err:
		default:
		}
	} else {
		select {
		case c.errc <- fmt.Errorf("niri socket closed"):
		default:
		}
	}
}

// request sends req and waits up to timeout for the next non-event line,
// decoding it into resp. Only one request may be outstanding at a time.
func (c *Client) request(req interface{}, resp interface{}, timeout time.Duration) error {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	replyc := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending = replyc
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode niri request: %w", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send niri request: %w", err)
	}

	select {
	case line := <-replyc:
		if resp != nil {
			if err := json.Unmarshal(line, resp); err != nil {
				return fmt.Errorf("decode niri response: %w", err)
			}
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("niri request timed out")
	case <-c.done:
		return fmt.Errorf("niri client closed")
	}
}

// Workspaces queries the current workspace list.
func (c *Client) Workspaces() ([]Workspace, error) {
	var resp struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	if err := c.request(map[string]string{"type": "workspaces"}, &resp, 2*time.Second); err != nil {
		return nil, err
	}
	return resp.Workspaces, nil
}

// FocusedWorkspace returns the id of the currently focused workspace, if
// any.
func (c *Client) FocusedWorkspace() (uint64, bool, error) {
	workspaces, err := c.Workspaces()
	if err != nil {
		return 0, false, err
	}
	for _, w := range workspaces {
		if w.IsFocused {
			return w.ID, true, nil
		}
	}
	return 0, false, nil
}

// Subscribe asks niri to start streaming workspace events down this
// connection; subsequent events surface through TryReadEvent/ReadEvent.
func (c *Client) Subscribe() error {
	return c.request(map[string]interface{}{
		"type":   "subscribe",
		"events": []string{"workspace"},
	}, nil, 2*time.Second)
}

// TryReadEvent returns the next pending event without blocking. ok is
// false when nothing is currently queued. A non-nil error means the
// connection has failed or closed and the Client should be discarded.
func (c *Client) TryReadEvent() (Event, bool, error) {
	select {
	case ev, open := <-c.events:
		if !open {
			return Event{}, false, c.closeErr()
		}
		return ev, true, nil
	default:
		return Event{}, false, nil
	}
}

// ReadEvent blocks until the next event arrives or the connection fails.
func (c *Client) ReadEvent() (Event, error) {
	ev, open := <-c.events
	if !open {
		return Event{}, c.closeErr()
	}
	return ev, nil
}

func (c *Client) closeErr() error {
	select {
	case err := <-c.errc:
		return err
	default:
		return fmt.Errorf("niri event stream closed")
	}
}

// Close stops the background read loop and closes the socket.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}
