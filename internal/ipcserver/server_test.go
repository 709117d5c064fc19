package ipcserver

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/ipc"
	"github.com/wayvid/wayvid/internal/player"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/surface"
)

// fakeLayerSurface is a local stand-in for a real zwlr_layer_surface_v1, the
// same boundary engine_test.go and surface_test.go each draw for their own
// copy: this package never needs a live compositor to exercise the socket
// framing.
type fakeLayerSurface struct{}

func (f *fakeLayerSurface) SetAnchor(uint32)       {}
func (f *fakeLayerSurface) SetExclusiveZone(int32) {}
func (f *fakeLayerSurface) SetSize(uint32, uint32) {}
func (f *fakeLayerSurface) AckConfigure(uint32)    {}
func (f *fakeLayerSurface) Commit()                {}
func (f *fakeLayerSurface) Destroy()               {}

type fakeFactory struct{}

func (fakeFactory) CreateSurface(out registry.Output) (*surface.Surface, error) {
	return surface.New(zerolog.Nop(), surface.OutputBinding{Name: out.Name}, &fakeLayerSurface{}), nil
}

// newTestServer starts a real engine event pump plus a real Server bound to
// a socket under t.TempDir(), so these tests dial an actual Unix socket
// rather than calling dispatch directly.
func newTestServer(t *testing.T, outputs ...string) (*Server, func()) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	reg := registry.New()
	for _, name := range outputs {
		reg.Register(name)
		reg.UpdateMode(name, 1920, 1080)
		reg.UpdateGeometry(name, 0, 0)
		reg.UpdateScale(name, 1)
		reg.MarkReady(name)
	}
	eng := engine.New(zerolog.Nop(), reg, nil, fakeFactory{}, player.HwdecAuto)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				eng.Drain(16)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	srv, err := Start(zerolog.Nop(), eng)
	require.NoError(t, err)

	return srv, func() {
		close(stop)
		srv.Close()
	}
}

func dial(t *testing.T, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendLine(t *testing.T, conn net.Conn, reader *bufio.Reader, req map[string]interface{}) ipc.Response {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp ipc.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestSocketPathPrefersXDGRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	require.Equal(t, "/run/user/1000/wayvid.sock", SocketPath())
}

func TestSocketPathFallsBackToTmp(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("USER", "alice")
	require.Contains(t, SocketPath(), "wayvid-alice.sock")
}

func TestPingReturnsPongOverTheSocket(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	conn, reader := dial(t, srv.SocketPath())
	resp := sendLine(t, conn, reader, map[string]interface{}{"type": "ping"})
	require.Equal(t, ipc.TypePong, resp.Type)
}

func TestGetStatusRoundTrips(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	conn, reader := dial(t, srv.SocketPath())
	resp := sendLine(t, conn, reader, map[string]interface{}{"command": "get-status"})
	require.Equal(t, "success", resp.Status)
}

func TestSetVolumeAgainstUnknownOutputReturnsErrorButKeepsConnectionOpen(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	conn, reader := dial(t, srv.SocketPath())

	resp := sendLine(t, conn, reader, map[string]interface{}{
		"command": "set-volume", "output": "does-not-exist", "volume": 0.5,
	})
	require.Equal(t, "error", resp.Status)
	require.Contains(t, resp.Message, "no such output")

	// The connection must still be usable for a subsequent request.
	resp = sendLine(t, conn, reader, map[string]interface{}{"type": "ping"})
	require.Equal(t, ipc.TypePong, resp.Type)
}

func TestMalformedJSONClosesTheConnection(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	conn, reader := dial(t, srv.SocketPath())
	_, err := conn.Write([]byte("not json at all\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	var resp ipc.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.Equal(t, "error", resp.Status)

	// Server closed its end after a transport-level failure: a further
	// read now observes EOF rather than hanging.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.ReadString('\n')
	require.Error(t, err)
}

func TestConnectionPersistsAcrossMultipleRequests(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1", "DP-1")
	defer cleanup()

	conn, reader := dial(t, srv.SocketPath())

	resp := sendLine(t, conn, reader, map[string]interface{}{"command": "get-status"})
	require.Equal(t, "success", resp.Status)

	resp = sendLine(t, conn, reader, map[string]interface{}{"type": "ping"})
	require.Equal(t, ipc.TypePong, resp.Type)

	resp = sendLine(t, conn, reader, map[string]interface{}{"command": "get-status"})
	require.Equal(t, "success", resp.Status)
}

func TestStartFailsWithAnotherInstanceWhenAlreadyListening(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	reg := registry.New()
	eng := engine.New(zerolog.Nop(), reg, nil, fakeFactory{}, player.HwdecAuto)
	_, err := Start(zerolog.Nop(), eng)
	require.ErrorIs(t, err, ErrAnotherInstance)
}

func TestProbeReportsLiveness(t *testing.T) {
	srv, cleanup := newTestServer(t, "HDMI-A-1")
	defer cleanup()

	require.True(t, Probe(srv.SocketPath(), time.Second))
	require.False(t, Probe(filepath.Join(t.TempDir(), "nothing.sock"), 200*time.Millisecond))
}
