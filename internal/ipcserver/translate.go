package ipcserver

import (
	"fmt"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/ipc"
	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/player"
)

// commandFromRequest translates a decoded wire request into the typed
// engine.Command the playback engine executes, a 1-to-1 mapping between
// wire commands and §4.7's design-level command table.
func commandFromRequest(req ipc.Request) (engine.Command, error) {
	sel := engine.Selector{Target: req.Output}

	switch req.Discriminator() {
	case ipc.CmdGetStatus:
		return engine.Command{Kind: engine.Status}, nil

	case ipc.CmdPause:
		return engine.Command{Kind: engine.Pause, Selector: sel}, nil

	case ipc.CmdResume:
		return engine.Command{Kind: engine.Resume, Selector: sel}, nil

	case ipc.CmdSeek:
		if err := requireOutput(req); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{Kind: engine.Seek, Selector: sel, Seconds: req.Time}, nil

	case ipc.CmdSwitchSource:
		src, err := sourceFromSpec(req.Source)
		if err != nil {
			return engine.Command{}, err
		}
		return engine.Command{Kind: engine.Apply, Selector: sel, Source: src}, nil

	case ipc.CmdSetVolume:
		if err := requireOutput(req); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{Kind: engine.SetVolume, Selector: sel, Volume: req.Volume}, nil

	case ipc.CmdSetPlaybackRate:
		if err := requireOutput(req); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{Kind: engine.SetRate, Selector: sel, Rate: req.Rate}, nil

	case ipc.CmdToggleMute:
		if err := requireOutput(req); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{Kind: engine.ToggleMute, Selector: sel}, nil

	case ipc.CmdSetLayout:
		if err := requireOutput(req); err != nil {
			return engine.Command{}, err
		}
		mode, ok := layout.ParseMode(req.Layout)
		if !ok {
			return engine.Command{}, fmt.Errorf("unknown layout %q", req.Layout)
		}
		return engine.Command{Kind: engine.SetLayout, Selector: sel, HasLayout: true, Layout: mode}, nil

	case ipc.CmdReloadConfig:
		return engine.Command{Kind: engine.Reload}, nil

	case ipc.CmdQuit:
		return engine.Command{Kind: engine.Quit}, nil

	default:
		return engine.Command{}, fmt.Errorf("unknown command %q", req.Discriminator())
	}
}

// requireOutput rejects single-output commands sent without an output
// field before they reach the engine, where an empty selector would read
// as "all".
func requireOutput(req ipc.Request) error {
	if req.Output == "" {
		return fmt.Errorf("%s requires an output", req.Discriminator())
	}
	return nil
}

// sourceFromSpec converts the tag-discriminated wire SourceSpec into a
// player.Source, the wire-to-domain counterpart of rules.Rule.Source.
func sourceFromSpec(spec *ipc.SourceSpec) (player.Source, error) {
	if spec == nil {
		return player.Source{}, fmt.Errorf("switch-source requires a source")
	}
	switch spec.Type {
	case "File":
		return player.Source{Kind: player.SourceFile, Path: spec.Path}, nil
	case "Directory":
		return player.Source{Kind: player.SourceDirectory, Path: spec.Path}, nil
	case "Url":
		return player.Source{Kind: player.SourceURL, URL: spec.URL}, nil
	case "Rtsp":
		return player.Source{Kind: player.SourceRTSP, URL: spec.URL}, nil
	case "Pipe":
		return player.Source{Kind: player.SourcePipe, Path: spec.Path}, nil
	case "ImageSequence":
		fps := spec.FPS
		if fps <= 0 {
			fps = 30
		}
		return player.Source{Kind: player.SourceImageSeq, Path: spec.Path, FPS: fps}, nil
	default:
		return player.Source{}, fmt.Errorf("unknown source type %q", spec.Type)
	}
}

// responseFromResult converts an engine.Result into the wire envelope.
func responseFromResult(res engine.Result) ipc.Response {
	if res.Err != nil {
		return ipc.Error(res.Err)
	}
	if res.Status != nil {
		return ipc.Success(statusData(*res.Status))
	}
	if res.Outputs != nil {
		return ipc.Success(res.Outputs)
	}
	return ipc.Success(nil)
}

func statusData(snap engine.StatusSnapshot) ipc.StatusData {
	outs := make([]ipc.OutputStatus, len(snap.Outputs))
	for i, o := range snap.Outputs {
		outs[i] = ipc.OutputStatus{
			Name:         o.Name,
			Width:        o.Width,
			Height:       o.Height,
			Playing:      o.Playing,
			Paused:       o.Paused,
			CurrentTime:  o.CurrentTime,
			Duration:     o.Duration,
			Source:       sourceLabel(o.Source),
			Layout:       o.Layout.String(),
			Volume:       o.Volume,
			Muted:        o.Muted,
			PlaybackRate: o.PlaybackRate,
		}
	}
	return ipc.StatusData{Version: daemonVersion, Alive: true, Outputs: outs}
}

func sourceLabel(s player.Source) string {
	switch s.Kind {
	case player.SourceURL, player.SourceRTSP:
		return s.URL
	default:
		return s.Path
	}
}
