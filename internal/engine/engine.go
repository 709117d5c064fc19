// Package engine implements the Playback Engine: the single point of
// mutation for every Surface/Player the daemon owns, driven by a FIFO
// command inbox the event pump drains once per iteration. IPC workers
// never touch engine state directly; they push a (Command, reply channel)
// pair into the inbox and wait.
//
// Composite multi-output failures ("apply"/"stop" against "all") are
// aggregated with github.com/hashicorp/go-multierror rather than
// hand-rolled error-slice joining, the same library helixml-helix reaches
// for when it needs to report several independent sub-task failures
// together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
	"github.com/wayvid/wayvid/internal/pattern"
	"github.com/wayvid/wayvid/internal/player"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/rules"
	"github.com/wayvid/wayvid/internal/surface"
)

// ErrNoSuchOutput is returned by the single-output commands
// (set_volume/toggle_mute/set_rate/set_layout/seek) when the named output
// has no live surface.
var ErrNoSuchOutput = errors.New("no such output")

// SurfaceFactory builds the compositor-backed Surface for a newly-covered
// output. It is an interface so the engine's command dispatch is
// unit-testable without a live compositor/GPU; the real implementation
// lives in internal/pump, which owns the Wayland connection the engine
// itself never touches.
type SurfaceFactory interface {
	CreateSurface(out registry.Output) (*surface.Surface, error)
}

// Kind discriminates the design-level commands, mirrored 1-to-1 by the
// IPC wire protocol in internal/ipc.
type Kind int

const (
	Apply Kind = iota
	Pause
	Resume
	Stop
	SetVolume
	ToggleMute
	SetRate
	SetLayout
	Seek
	Reload
	Status
	Outputs
	Quit
)

// Selector picks which outputs a command targets: All, a single exact
// output name, or a glob pattern. An empty Target also means all. Apply
// resolves it against ready registry outputs (it may create the missing
// Surface); every other command resolves it against currently-known
// surfaces only.
type Selector struct {
	All    bool
	Target string
}

func (s Selector) describe() string {
	switch {
	case s.All:
		return "all"
	case s.Target == "":
		return "<default>"
	default:
		return s.Target
	}
}

// Command is the decoded, typed request the event pump executes against
// the engine state it alone owns.
type Command struct {
	Kind     Kind
	Selector Selector

	Source    player.Source
	HasLayout bool
	Layout    layout.Mode
	Volume    float64
	Muted     bool
	Rate      float64
	Seconds   float64
}

// OutputStatus is one entry of a status snapshot, field-for-field the
// data the IPC server's get-status response surfaces (internal/ipc keeps
// its own copy tagged for JSON; this package never imports the wire
// protocol so the playback engine has no dependency on its framing).
type OutputStatus struct {
	Name         string
	Width        int
	Height       int
	Playing      bool
	Paused       bool
	CurrentTime  float64
	Duration     float64
	Source       player.Source
	Layout       layout.Mode
	Volume       float64
	Muted        bool
	PlaybackRate float64
	LastError    string
}

// StatusSnapshot is the result of a Status command.
type StatusSnapshot struct {
	Outputs []OutputStatus
}

// Result is what a Command resolves to: at most one of Status/Outputs is
// populated, depending on Kind; Err is non-nil on failure (possibly a
// *multierror.Error wrapping several per-output failures).
type Result struct {
	Status  *StatusSnapshot
	Outputs []string
	Err     error
}

type surfaceEntry struct {
	surf *surface.Surface

	// rulePattern records which rule (by pattern string) currently governs
	// this surface, so Reload can tell "rule unchanged" (leave the running
	// Player alone) from "rule changed" (re-apply) without diffing the
	// whole Source/Layout tuple.
	rulePattern string
}

type inboxItem struct {
	cmd   Command
	reply chan Result
}

// Engine owns every Surface the daemon has created and the sole inbox IPC
// workers feed. Every field below is touched only by the goroutine
// calling Drain (the event pump); Submit is the only method safe to call
// from other goroutines.
type Engine struct {
	log zerolog.Logger

	registry *registry.Registry
	rules    *rules.Store
	factory  SurfaceFactory
	hwdec    player.HwdecMode

	surfaces map[string]*surfaceEntry

	inbox chan inboxItem
	done  chan struct{}

	quitting bool
}

// New constructs an Engine. defaultHwdec is applied to every Surface this
// Engine opens unless a future per-rule override is introduced.
func New(log zerolog.Logger, reg *registry.Registry, rulesStore *rules.Store, factory SurfaceFactory, defaultHwdec player.HwdecMode) *Engine {
	return &Engine{
		log:      log,
		registry: reg,
		rules:    rulesStore,
		factory:  factory,
		hwdec:    defaultHwdec,
		surfaces: make(map[string]*surfaceEntry),
		inbox:    make(chan inboxItem, 64),
		done:     make(chan struct{}),
	}
}

// Submit enqueues cmd and blocks until the event pump has executed it and
// produced a Result, or ctx is done first. Safe to call concurrently from
// any number of IPC workers.
func (e *Engine) Submit(ctx context.Context, cmd Command) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case e.inbox <- inboxItem{cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done returns a channel closed once a Quit command has finished tearing
// down every surface, the event pump's signal to stop iterating (§4.9).
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Drain executes up to max queued commands synchronously, the event
// pump's per-iteration step. It never blocks: an empty inbox returns
// immediately.
func (e *Engine) Drain(max int) {
	for i := 0; i < max; i++ {
		var item inboxItem
		select {
		case item = <-e.inbox:
		default:
			return
		}
		res := e.execute(item.cmd)
		select {
		case item.reply <- res:
		default:
			// Reply channel has capacity 1 and exactly one send ever
			// happens; a full/closed channel here means the caller already
			// gave up (context canceled), so the reply is discarded per
			// cancellation policy.
		}
	}
}

func (e *Engine) execute(cmd Command) Result {
	if e.quitting && cmd.Kind != Quit {
		return Result{Err: fmt.Errorf("engine is shutting down")}
	}
	switch cmd.Kind {
	case Apply:
		return e.applyCmd(cmd)
	case Pause:
		return e.forEachTarget(cmd.Selector, func(p *player.Player) error { return p.Pause() })
	case Resume:
		return e.forEachTarget(cmd.Selector, func(p *player.Player) error { return p.Resume() })
	case Stop:
		return e.stopCmd(cmd)
	case SetVolume:
		return e.withOneTarget(cmd.Selector, func(p *player.Player) error { return p.SetVolume(cmd.Volume) })
	case ToggleMute:
		return e.withOneTarget(cmd.Selector, func(p *player.Player) error { _, err := p.ToggleMute(); return err })
	case SetRate:
		return e.withOneTarget(cmd.Selector, func(p *player.Player) error { return p.SetRate(cmd.Rate) })
	case SetLayout:
		return e.setLayoutCmd(cmd)
	case Seek:
		return e.withOneTarget(cmd.Selector, func(p *player.Player) error { return p.Seek(cmd.Seconds) })
	case Reload:
		return e.reloadCmd()
	case Status:
		return e.statusCmd()
	case Outputs:
		return e.outputsCmd()
	case Quit:
		return e.quitCmd()
	default:
		return Result{Err: fmt.Errorf("unknown command kind %d", cmd.Kind)}
	}
}

// resolveSelector maps a selector onto live compositor outputs, used only
// by Apply (the one command allowed to create a Surface that doesn't
// exist yet). An exact Target match against a Ready output wins outright;
// otherwise Target is matched as a glob pattern.
func (e *Engine) resolveSelector(sel Selector) []registry.Output {
	ready := e.registry.ReadyOutputs()
	if sel.All || sel.Target == "" {
		return ready
	}
	for _, out := range ready {
		if out.Name == sel.Target {
			return []registry.Output{out}
		}
	}
	var matched []registry.Output
	for _, out := range ready {
		if pattern.Matches(out.Name, sel.Target) {
			matched = append(matched, out)
		}
	}
	return matched
}

// targetSurfaces maps a selector onto currently-known surfaces (not
// registry outputs): the set that pause/resume/stop act on. Matching zero
// surfaces is not an error here; a pause/resume/stop against an output
// with nothing running is a no-op, matching the idempotent style the
// rest of this package's sibling packages (Surface.Close, Player.Pause)
// already follow.
func (e *Engine) targetSurfaces(sel Selector) map[string]*surfaceEntry {
	if sel.All || sel.Target == "" {
		out := make(map[string]*surfaceEntry, len(e.surfaces))
		for name, se := range e.surfaces {
			out[name] = se
		}
		return out
	}
	if se, ok := e.surfaces[sel.Target]; ok {
		return map[string]*surfaceEntry{sel.Target: se}
	}
	out := make(map[string]*surfaceEntry)
	for name, se := range e.surfaces {
		if pattern.Matches(name, sel.Target) {
			out[name] = se
		}
	}
	return out
}

// requireSurface resolves the single, exact, already-live surface the
// single-output commands (set_volume/toggle_mute/set_rate/set_layout/seek)
// require: "reject with 'no such output' if unmatched".
func (e *Engine) requireSurface(name string) (*surfaceEntry, error) {
	se, ok := e.surfaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchOutput, name)
	}
	return se, nil
}

func (e *Engine) applyCmd(cmd Command) Result {
	outs := e.resolveSelector(cmd.Selector)
	if len(outs) == 0 {
		return Result{Err: fmt.Errorf("apply: no output matched selector %q", cmd.Selector.describe())}
	}

	mode := layout.Fill
	if cmd.HasLayout {
		mode = cmd.Layout
	}

	var merr *multierror.Error
	for _, out := range outs {
		if err := e.applyOne(out, cmd.Source, mode); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", out.Name, err))
		}
	}
	return Result{Err: merr.ErrorOrNil()}
}

func (e *Engine) applyOne(out registry.Output, src player.Source, mode layout.Mode) error {
	se, ok := e.surfaces[out.Name]
	if !ok {
		surf, err := e.factory.CreateSurface(out)
		if err != nil {
			return fmt.Errorf("create surface: %w", err)
		}
		se = &surfaceEntry{surf: surf}
		e.surfaces[out.Name] = se
	}
	return se.surf.Open(context.Background(), surface.PendingOpen{
		Source:     src,
		Layout:     mode,
		Volume:     1,
		Rate:       1,
		Hwdec:      e.hwdec,
		HDRCapable: out.HDRCapabilities.HDRCapable,
	})
}

// forEachTarget applies fn to every matched surface's Player, skipping
// surfaces with no Player bound yet (e.g. still CONFIGURING), and
// aggregates per-surface failures, no-rollback policy.
func (e *Engine) forEachTarget(sel Selector, fn func(*player.Player) error) Result {
	var merr *multierror.Error
	for name, se := range e.targetSurfaces(sel) {
		p := se.surf.Player()
		if p == nil {
			continue
		}
		if err := fn(p); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", name, err))
		}
	}
	return Result{Err: merr.ErrorOrNil()}
}

// withOneTarget implements the single-output commands that require an
// exact, already-live output name.
func (e *Engine) withOneTarget(sel Selector, fn func(*player.Player) error) Result {
	se, err := e.requireSurface(sel.Target)
	if err != nil {
		return Result{Err: err}
	}
	p := se.surf.Player()
	if p == nil {
		return Result{Err: fmt.Errorf("output %q has no active player", sel.Target)}
	}
	return Result{Err: fn(p)}
}

func (e *Engine) setLayoutCmd(cmd Command) Result {
	se, err := e.requireSurface(cmd.Selector.Target)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Err: se.surf.SetLayout(cmd.Layout)}
}

func (e *Engine) stopCmd(cmd Command) Result {
	for name, se := range e.targetSurfaces(cmd.Selector) {
		se.surf.Close()
		delete(e.surfaces, name)
	}
	return Result{}
}

// reloadCmd re-reads the rule set and reconciles live surfaces against
// it: destroy surfaces no longer covered, create surfaces newly covered,
// leave unchanged-rule surfaces running, and re-apply surfaces whose
// governing rule changed.
func (e *Engine) reloadCmd() Result {
	if err := e.rules.Reload(); err != nil {
		return Result{Err: fmt.Errorf("reload rules: %w", err)}
	}

	ruleSet := e.rules.Rules()
	patterns := make([]string, len(ruleSet))
	byPattern := make(map[string]rules.Rule, len(ruleSet))
	for i, r := range ruleSet {
		patterns[i] = r.Pattern
		byPattern[r.Pattern] = r
	}

	ready := e.registry.ReadyOutputs()
	wanted := make(map[string]rules.Rule, len(ready))
	for _, out := range ready {
		if pat, ok := pattern.BestMatch(out.Name, patterns); ok {
			wanted[out.Name] = byPattern[pat]
		}
	}

	var merr *multierror.Error

	for name, se := range e.surfaces {
		if _, ok := wanted[name]; !ok {
			se.surf.Close()
			delete(e.surfaces, name)
		}
	}

	for _, out := range ready {
		rule, ok := wanted[out.Name]
		if !ok {
			continue
		}
		se, exists := e.surfaces[out.Name]
		if exists && se.rulePattern == rule.Pattern {
			continue
		}
		if !exists {
			surf, err := e.factory.CreateSurface(out)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: create surface: %w", out.Name, err))
				continue
			}
			se = &surfaceEntry{surf: surf}
			e.surfaces[out.Name] = se
		}
		se.rulePattern = rule.Pattern
		if err := e.openFromRule(se, out, rule); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", out.Name, err))
		}
	}

	return Result{Err: merr.ErrorOrNil()}
}

func (e *Engine) openFromRule(se *surfaceEntry, out registry.Output, rule rules.Rule) error {
	src, err := rule.Source()
	if err != nil {
		return err
	}
	volume := 1.0
	if rule.Volume != nil {
		volume = *rule.Volume
	}
	muted := false
	if rule.Muted != nil {
		muted = *rule.Muted
	}
	return se.surf.Open(context.Background(), surface.PendingOpen{
		Source:     src,
		Layout:     rule.LayoutMode(),
		Volume:     volume,
		Muted:      muted,
		Rate:       1,
		Hwdec:      e.hwdec,
		HDRCapable: out.HDRCapabilities.HDRCapable,
	})
}

func (e *Engine) statusCmd() Result {
	names := make([]string, 0, len(e.surfaces))
	for name := range e.surfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	outs := make([]OutputStatus, 0, len(names))
	for _, name := range names {
		se := e.surfaces[name]
		reg, _ := e.registry.Get(name)
		st := OutputStatus{Name: name, Width: reg.PixelW, Height: reg.PixelH}
		if p := se.surf.Player(); p != nil {
			snap := p.Snapshot()
			st.Playing = snap.State == player.Playing
			st.Paused = snap.State == player.Paused
			st.CurrentTime = snap.CurrentTime
			st.Duration = snap.Duration
			st.Source = snap.Source
			st.Layout = snap.Layout
			st.Volume = snap.Volume
			st.Muted = snap.Muted
			st.PlaybackRate = snap.Rate
			st.LastError = snap.LastError
		}
		outs = append(outs, st)
	}
	return Result{Status: &StatusSnapshot{Outputs: outs}}
}

func (e *Engine) outputsCmd() Result {
	ready := e.registry.ReadyOutputs()
	names := make([]string, 0, len(ready))
	for _, out := range ready {
		names = append(names, out.Name)
	}
	sort.Strings(names)
	return Result{Outputs: names}
}

// quitCmd begins graceful teardown: every live surface is closed in one
// pass (no partial failure reporting; Close cannot fail), then Done is
// closed so the event pump knows to stop iterating.
func (e *Engine) quitCmd() Result {
	if e.quitting {
		return Result{}
	}
	e.quitting = true
	for name, se := range e.surfaces {
		se.surf.Close()
		delete(e.surfaces, name)
	}
	close(e.done)
	return Result{}
}
