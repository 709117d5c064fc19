// Package ipcserver implements the local control socket: a newline-delimited
// JSON request/response protocol over a Unix stream socket, translating
// each decoded line into an engine.Command and awaiting its Result with a
// 5-second timeout, grounded on original_source/src/ctl/ipc_server.rs's
// IpcServer (bind, stale-socket removal, per-connection thread, mpsc reply
// channel with recv_timeout).
//
// Per-connection workers are spawned through github.com/sourcegraph/conc,
// the same supervised-goroutine helper helixml-helix/api/pkg/agent/agent.go
// uses to run several tool calls concurrently: a panic inside one client's
// handler is caught rather than taking the whole daemon down. Advisory
// locking against a concurrent startup race is done with
// github.com/gofrs/flock, both listed in SPEC_FULL.md's §2 dependency
// table.
package ipcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/ipc"
)

const (
	maxLineBytes = 1 << 20 // "at most 1 MiB per line"
	replyTimeout = 5 * time.Second

	daemonVersion = "0.1.0"
)

// ErrAnotherInstance is returned by Start when an already-running daemon
// answers the single-instance ping probe, exit code 2.
var ErrAnotherInstance = errors.New("ipcserver: another wayvid instance is already running")

// SocketPath returns the control socket path: $XDG_RUNTIME_DIR/wayvid.sock,
// else /tmp/wayvid-$USER.sock.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "wayvid.sock")
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("wayvid-%s.sock", user))
}

// Probe dials path and issues a liveness ping, reporting whether a live
// wayvid instance answered with pong within timeout. Used both by Start
// (to distinguish a stale socket from a live conflicting daemon) and by
// the `wayvid-ctl check` diagnostic.
func Probe(path string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(`{"type":"ping"}` + "\n")); err != nil {
		return false
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	var resp ipc.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return false
	}
	return resp.Type == ipc.TypePong
}

// Server owns the control socket's listener and dispatches each decoded
// request to eng.
type Server struct {
	log zerolog.Logger
	eng *engine.Engine

	socketPath string
	lock       *flock.Flock
	holdsLock  bool

	listener net.Listener
	workers  conc.WaitGroup
}

// Start binds the control socket. Lifecycle: remove a stale socket file,
// but first probe it (EADDRINUSE-equivalent conflict detection) so a
// genuinely live daemon is never displaced.
func Start(log zerolog.Logger, eng *engine.Engine) (*Server, error) {
	path := SocketPath()

	lock := flock.New(path + ".lock")
	holdsLock, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire startup lock: %w", err)
	}
	if !holdsLock {
		if Probe(path, 2*time.Second) {
			return nil, ErrAnotherInstance
		}
		log.Warn().Msg("startup lock held but no instance answered a ping; proceeding, the lock holder is likely dead")
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if Probe(path, 2*time.Second) {
			if holdsLock {
				lock.Unlock()
			}
			return nil, ErrAnotherInstance
		}
		if err := os.Remove(path); err != nil {
			if holdsLock {
				lock.Unlock()
			}
			return nil, fmt.Errorf("remove stale socket %q: %w", path, err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		if holdsLock {
			lock.Unlock()
		}
		return nil, fmt.Errorf("bind socket %q: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		log.Warn().Err(err).Msg("chmod control socket failed")
	}

	s := &Server{
		log:        log,
		eng:        eng,
		socketPath: path,
		lock:       lock,
		holdsLock:  holdsLock,
		listener:   listener,
	}
	s.workers.Go(s.acceptLoop)
	log.Info().Str("socket", path).Msg("ipc server listening")
	return s, nil
}

// SocketPath returns the path this server is bound to.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Close stops accepting new connections and removes the socket file.
// Already-open connections are left to drain on their own rather than
// blocked on here, since a client may be holding one open indefinitely;
// the OS reclaims them when the process exits.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.socketPath)
	if s.holdsLock {
		s.lock.Unlock()
		os.Remove(s.socketPath + ".lock")
	}
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("ipc accept failed")
			return
		}
		s.workers.Go(func() { s.handleConn(conn) })
	}
}

// handleConn implements the connection framing: one request per line in,
// exactly one response line out, connection held open and reused for
// subsequent lines.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp, fatal := s.dispatch(line)
		if err := writeResponse(conn, resp); err != nil {
			s.log.Debug().Err(err).Msg("ipc write failed, closing connection")
			return
		}
		if fatal {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		msg := "read request"
		if errors.Is(err, bufio.ErrTooLong) {
			msg = fmt.Sprintf("request line exceeds %d bytes", maxLineBytes)
		}
		_ = writeResponse(conn, ipc.Error(fmt.Errorf("%s: %w", msg, err)))
	}
}

// dispatch decodes and executes one request line. The bool return is true
// only for transport-level failures (malformed JSON); those close the
// connection, while command-level failures (unknown output, bad layout
// string, engine timeout) are surfaced as an error response on a
// connection that stays open.
func (s *Server) dispatch(line []byte) (ipc.Response, bool) {
	var req ipc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return ipc.Error(fmt.Errorf("decode request: %w", err)), true
	}

	switch req.Discriminator() {
	case ipc.TypePing:
		return ipc.Pong(), false
	case ipc.TypeShowWindow:
		return ipc.Success(nil), false
	}

	cmd, err := commandFromRequest(req)
	if err != nil {
		return ipc.Error(err), false
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	res, err := s.eng.Submit(ctx, cmd)
	if err != nil {
		return ipc.Error(fmt.Errorf("timeout")), false
	}
	return responseFromResult(res), false
}

func writeResponse(conn net.Conn, resp ipc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
