// Package ipc defines the wire protocol envelope between wayvidctl and
// wayvidd: newline-delimited JSON requests tag-discriminated by a
// "command" (or "type", for the liveness/single-instance probes) field,
// and responses carrying either a success payload or an error message.
// Modeled as a Go sum type (a Command string plus per-variant optional
// fields) rather than an interface hierarchy, matching how player.Source
// models media specifiers — both are grounded on
// original_source/src/ctl/protocol.rs's serde-tagged enums.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Command names, matching the wire protocol exactly.
const (
	CmdGetStatus       = "get-status"
	CmdPause           = "pause"
	CmdResume          = "resume"
	CmdSeek            = "seek"
	CmdSwitchSource    = "switch-source"
	CmdSetVolume       = "set-volume"
	CmdSetPlaybackRate = "set-playback-rate"
	CmdToggleMute      = "toggle-mute"
	CmdSetLayout       = "set-layout"
	CmdReloadConfig    = "reload-config"
	CmdQuit            = "quit"

	TypePing       = "ping"
	TypePong       = "pong"
	TypeShowWindow = "show-window"
)

// SourceSpec is the tag-discriminated media specifier carried by
// switch-source requests: File{path}, Directory{path}, Url{url},
// Rtsp{url}, Pipe{path}, ImageSequence{path,fps}.
type SourceSpec struct {
	Type string  `json:"type"`
	Path string  `json:"path,omitempty"`
	URL  string  `json:"url,omitempty"`
	FPS  float64 `json:"fps,omitempty"`
}

// Request is the full superset of request fields; Command (or Type for
// the liveness probes) selects which are meaningful. Unmarshaling accepts
// either discriminator key, the `{"command":...}` / `{"type":"ping"}`
// duality.
type Request struct {
	Command string      `json:"command,omitempty"`
	Type    string      `json:"type,omitempty"`
	Output  string      `json:"output,omitempty"`
	Time    float64     `json:"time,omitempty"`
	Source  *SourceSpec `json:"source,omitempty"`
	Volume  float64     `json:"volume,omitempty"`
	Rate    float64     `json:"rate,omitempty"`
	Layout  string      `json:"layout,omitempty"`
}

// rawRequest lets UnmarshalJSON distinguish "field absent" from
// "field present with zero value" for Volume/Rate/Time, all of which have
// valid non-zero-but-also-valid-zero semantics (e.g. set-volume to 0).
type rawRequest struct {
	Command string      `json:"command"`
	Type    string      `json:"type"`
	Output  string      `json:"output"`
	Time    json.Number `json:"time"`
	Source  *SourceSpec `json:"source"`
	Volume  json.Number `json:"volume"`
	Rate    json.Number `json:"rate"`
	Layout  string      `json:"layout"`
}

// UnmarshalJSON accepts both "command" and "type" discriminator keys
// (mutating/status commands use "command"; the liveness probes use
// "type").
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	r.Command = raw.Command
	r.Type = raw.Type
	r.Output = raw.Output
	r.Source = raw.Source
	r.Layout = raw.Layout
	if raw.Time != "" {
		f, err := raw.Time.Float64()
		if err != nil {
			return fmt.Errorf("decode request: time: %w", err)
		}
		r.Time = f
	}
	if raw.Volume != "" {
		f, err := raw.Volume.Float64()
		if err != nil {
			return fmt.Errorf("decode request: volume: %w", err)
		}
		r.Volume = f
	}
	if raw.Rate != "" {
		f, err := raw.Rate.Float64()
		if err != nil {
			return fmt.Errorf("decode request: rate: %w", err)
		}
		r.Rate = f
	}
	return nil
}

// Discriminator returns whichever of Command/Type is set, the effective
// request tag.
func (r Request) Discriminator() string {
	if r.Command != "" {
		return r.Command
	}
	return r.Type
}

// Response is the wire response envelope:
// {"status":"success"[,"data":{...}]} / {"status":"error","message":"..."}
// / {"type":"pong"}.
type Response struct {
	Status  string      `json:"status,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Type    string      `json:"type,omitempty"`
}

// Success builds a {"status":"success"} response, optionally carrying data.
func Success(data interface{}) Response {
	return Response{Status: "success", Data: data}
}

// Error builds a {"status":"error","message":...} response.
func Error(err error) Response {
	return Response{Status: "error", Message: err.Error()}
}

// Pong builds the {"type":"pong"} liveness-probe response.
func Pong() Response {
	return Response{Type: TypePong}
}

// OutputStatus is one entry of the get-status response's per-output array.
type OutputStatus struct {
	Name         string  `json:"name"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Playing      bool    `json:"playing"`
	Paused       bool    `json:"paused"`
	CurrentTime  float64 `json:"current_time"`
	Duration     float64 `json:"duration"`
	Source       string  `json:"source"`
	Layout       string  `json:"layout"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
	PlaybackRate float64 `json:"playback_rate"`
}

// StatusData is the get-status response's data payload.
type StatusData struct {
	Version string         `json:"version"`
	Alive   bool           `json:"alive"`
	Outputs []OutputStatus `json:"outputs"`
}
