// Command wayvidctl is the command-line control surface for a running
// wayvid daemon: one subcommand per wire request, plus a `check`
// diagnostic for the surrounding environment.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/gfx"
	"github.com/wayvid/wayvid/internal/ipc"
	"github.com/wayvid/wayvid/internal/ipcserver"
	"github.com/wayvid/wayvid/internal/probe"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wayvidctl",
		Short: "Control a running wayvid daemon",
	}
	root.PersistentFlags().String("socket", "", "override the control socket path (default: wayvid's own default)")

	root.AddCommand(
		newPingCmd(),
		newGetStatusCmd(),
		newApplyCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newSeekCmd(),
		newSwitchSourceCmd(),
		newSetVolumeCmd(),
		newSetPlaybackRateCmd(),
		newToggleMuteCmd(),
		newSetLayoutCmd(),
		newReloadConfigCmd(),
		newQuitCmd(),
		newCheckCmd(),
	)
	return root
}

// socketPath resolves the --socket override, falling back to wayvid's own
// default resolution (XDG_RUNTIME_DIR or /tmp/wayvid-$USER.sock).
func socketPath(cmd *cobra.Command) string {
	if s, _ := cmd.Flags().GetString("socket"); s != "" {
		return s
	}
	return ipcserver.SocketPath()
}

// sendRequest dials sock, writes req as one JSON line, and decodes the
// single-line reply. It opens a fresh connection per call and closes it
// afterwards, the shape of a short-lived CLI talking to a long-lived daemon.
func sendRequest(sock string, req ipc.Request) (ipc.Response, error) {
	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connect to %s: %w (is wayvid running?)", sock, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return ipc.Response{}, fmt.Errorf("write request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return ipc.Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp ipc.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return ipc.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// runSimple issues req against the daemon and reports success/failure on
// stdout/stderr, the shared tail of every mutating subcommand.
func runSimple(cmd *cobra.Command, req ipc.Request) error {
	resp, err := sendRequest(socketPath(cmd), req)
	if err != nil {
		return err
	}
	if resp.Status == "error" {
		return fmt.Errorf("%s", resp.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func outputFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("output", "", "target a single output (apply/pause/resume/switch-source default to all; the other commands require it)")
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether a wayvid daemon answers on the control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendRequest(socketPath(cmd), ipc.Request{Type: ipc.TypePing})
			if err != nil {
				return err
			}
			if resp.Type != ipc.TypePong {
				return fmt.Errorf("unexpected reply: %+v", resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pong")
			return nil
		},
	}
}

func newGetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-status",
		Short: "Show per-output playback status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendRequest(socketPath(cmd), ipc.Request{Command: ipc.CmdGetStatus})
			if err != nil {
				return err
			}
			if resp.Status == "error" {
				return fmt.Errorf("%s", resp.Message)
			}
			return renderStatus(cmd, resp.Data)
		},
	}
}

func renderStatus(cmd *cobra.Command, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("re-encode status payload: %w", err)
	}
	var status ipc.StatusData
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode status payload: %w", err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Output", "Size", "State", "Time", "Source", "Layout", "Volume", "Rate"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding(" ")

	for _, o := range status.Outputs {
		state := "stopped"
		switch {
		case o.Playing:
			state = "playing"
		case o.Paused:
			state = "paused"
		}
		muted := ""
		if o.Muted {
			muted = " (muted)"
		}
		table.Append([]string{
			o.Name,
			fmt.Sprintf("%dx%d", o.Width, o.Height),
			state,
			fmt.Sprintf("%.1f/%.1f", o.CurrentTime, o.Duration),
			o.Source,
			o.Layout,
			fmt.Sprintf("%.2f%s", o.Volume, muted),
			fmt.Sprintf("%.2fx", o.PlaybackRate),
		})
	}
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "wayvid %s\n", status.Version)
	return nil
}

// newApplyCmd is the path-first convenience over switch-source: it stats
// the given path and sends a File or Directory source accordingly, so
// `wayvidctl apply ~/wallpapers` just works without naming a source type.
func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Play a file or directory on one output or all outputs",
		Args:  cobra.ExactArgs(1),
	}
	out := outputFlag(cmd)
	lay := cmd.Flags().String("layout", "", "layout mode: fill|contain|stretch|cover|centre")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *lay != "" && *out == "" {
			return fmt.Errorf("--layout requires --output (set-layout targets a single output)")
		}
		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("stat %s: %w", args[0], err)
		}
		spec := &ipc.SourceSpec{Type: "File", Path: args[0]}
		if info.IsDir() {
			spec.Type = "Directory"
		}
		if err := runSimple(cmd, ipc.Request{Command: ipc.CmdSwitchSource, Output: *out, Source: spec}); err != nil {
			return err
		}
		if *lay != "" {
			return runSimple(cmd, ipc.Request{Command: ipc.CmdSetLayout, Output: *out, Layout: *lay})
		}
		return nil
	}
	return cmd
}

func newPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause playback on one output or all outputs",
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSimple(cmd, ipc.Request{Command: ipc.CmdPause, Output: *out})
	}
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume playback on one output or all outputs",
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSimple(cmd, ipc.Request{Command: ipc.CmdResume, Output: *out})
	}
	return cmd
}

func newSeekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seek <seconds>",
		Short: "Seek the targeted output to an absolute time",
		Args:  cobra.ExactArgs(1),
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var seconds float64
		if _, err := fmt.Sscanf(args[0], "%f", &seconds); err != nil {
			return fmt.Errorf("invalid seconds %q: %w", args[0], err)
		}
		return runSimple(cmd, ipc.Request{Command: ipc.CmdSeek, Output: *out, Time: seconds})
	}
	return cmd
}

func newSwitchSourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch-source <type> <path-or-url>",
		Short: "Switch the targeted output's media source",
		Long:  "type is one of file|directory|url|rtsp|pipe|image-sequence.",
		Args:  cobra.ExactArgs(2),
	}
	out := outputFlag(cmd)
	fps := cmd.Flags().Float64("fps", 30, "frames per second (image-sequence only)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		spec, err := sourceSpec(args[0], args[1], *fps)
		if err != nil {
			return err
		}
		return runSimple(cmd, ipc.Request{Command: ipc.CmdSwitchSource, Output: *out, Source: spec})
	}
	return cmd
}

func sourceSpec(kind, target string, fps float64) (*ipc.SourceSpec, error) {
	switch kind {
	case "file":
		return &ipc.SourceSpec{Type: "File", Path: target}, nil
	case "directory":
		return &ipc.SourceSpec{Type: "Directory", Path: target}, nil
	case "url":
		return &ipc.SourceSpec{Type: "Url", URL: target}, nil
	case "rtsp":
		return &ipc.SourceSpec{Type: "Rtsp", URL: target}, nil
	case "pipe":
		return &ipc.SourceSpec{Type: "Pipe", Path: target}, nil
	case "image-sequence":
		return &ipc.SourceSpec{Type: "ImageSequence", Path: target, FPS: fps}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", kind)
	}
}

func newSetVolumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-volume <0.0-1.0>",
		Short: "Set playback volume on the targeted output",
		Args:  cobra.ExactArgs(1),
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var vol float64
		if _, err := fmt.Sscanf(args[0], "%f", &vol); err != nil {
			return fmt.Errorf("invalid volume %q: %w", args[0], err)
		}
		return runSimple(cmd, ipc.Request{Command: ipc.CmdSetVolume, Output: *out, Volume: vol})
	}
	return cmd
}

func newSetPlaybackRateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-playback-rate <rate>",
		Short: "Set playback speed on the targeted output",
		Args:  cobra.ExactArgs(1),
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var rate float64
		if _, err := fmt.Sscanf(args[0], "%f", &rate); err != nil {
			return fmt.Errorf("invalid rate %q: %w", args[0], err)
		}
		return runSimple(cmd, ipc.Request{Command: ipc.CmdSetPlaybackRate, Output: *out, Rate: rate})
	}
	return cmd
}

func newToggleMuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle-mute",
		Short: "Toggle mute on the targeted output",
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSimple(cmd, ipc.Request{Command: ipc.CmdToggleMute, Output: *out})
	}
	return cmd
}

func newSetLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-layout <fill|contain|stretch|cover|centre>",
		Short: "Set the layout transform on the targeted output",
		Args:  cobra.ExactArgs(1),
	}
	out := outputFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSimple(cmd, ipc.Request{Command: ipc.CmdSetLayout, Output: *out, Layout: args[0]})
	}
	return cmd
}

func newReloadConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-config",
		Short: "Re-read the rule set and reconcile live surfaces against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimple(cmd, ipc.Request{Command: ipc.CmdReloadConfig})
		},
	}
}

func newQuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Ask the daemon to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimple(cmd, ipc.Request{Command: ipc.CmdQuit})
		},
	}
}

// newCheckCmd is the environment sanity check supplemented from
// original_source/src/ctl/check.rs: is WAYLAND_DISPLAY set, is the
// socket present and answering, and is another painter daemon competing
// for the same layer-shell surfaces.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run environment diagnostics (compositor, socket, conflicting painters)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ok := true

			if display := os.Getenv("WAYLAND_DISPLAY"); display == "" {
				fmt.Fprintln(out, "[FAIL] WAYLAND_DISPLAY is not set")
				ok = false
			} else {
				fmt.Fprintf(out, "[ OK ] WAYLAND_DISPLAY=%s\n", display)
			}

			sock := socketPath(cmd)
			if ipcserver.Probe(sock, time.Second) {
				fmt.Fprintf(out, "[ OK ] wayvid daemon answered on %s\n", sock)
			} else {
				fmt.Fprintf(out, "[FAIL] no wayvid daemon answered on %s\n", sock)
				ok = false
			}

			if painters := probe.Scan(); len(painters) > 0 {
				fmt.Fprintf(out, "[WARN] conflicting background painter(s) detected: %v\n", painters)
			} else {
				fmt.Fprintln(out, "[ OK ] no conflicting background painters detected")
			}

			if dev, err := gfx.Acquire(zerolog.Nop()); err != nil {
				fmt.Fprintf(out, "[FAIL] no Vulkan device selectable: %v\n", err)
				ok = false
			} else {
				fmt.Fprintln(out, "[ OK ] a Vulkan device is selectable")
				dev.Release()
			}

			if !ok {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}
