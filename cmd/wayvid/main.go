// Command wayvid is the layer-shell video-wallpaper daemon: it binds the
// control socket, watches the rule set, dials the compositor, and runs the
// event pump until told to quit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wayvid/wayvid/internal/engine"
	"github.com/wayvid/wayvid/internal/ipcserver"
	"github.com/wayvid/wayvid/internal/logging"
	"github.com/wayvid/wayvid/internal/player"
	"github.com/wayvid/wayvid/internal/probe"
	"github.com/wayvid/wayvid/internal/pump"
	"github.com/wayvid/wayvid/internal/registry"
	"github.com/wayvid/wayvid/internal/rules"
)

// Exit codes: 0 success, 1 usage/fatal init error, 2 another instance is
// already live and answered ping.
const (
	exitOK          = 0
	exitUsageOrInit = 1
	exitAnotherInst = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	pretty := flag.Bool("pretty", false, "console-formatted logs instead of JSON")
	rulesPath := flag.String("rules", defaultRulesPath(), "path to the wallpaper rule-set TOML file")
	hwdecFlag := flag.String("hwdec", "auto", "hardware decode preference: auto|force|no")
	flag.Parse()

	log := logging.Init(*logLevel, *pretty)

	hwdec, err := parseHwdec(*hwdecFlag)
	if err != nil {
		log.Error().Err(err).Msg("invalid -hwdec")
		return exitUsageOrInit
	}

	if ipcserver.Probe(ipcserver.SocketPath(), time.Second) {
		log.Error().Msg("another wayvid instance is already running")
		return exitAnotherInst
	}

	probe.WarnIfConflicting(log)

	rulesStore, err := rules.Load(log, *rulesPath)
	if err != nil {
		log.Error().Err(err).Str("path", *rulesPath).Msg("failed to load rule set")
		return exitUsageOrInit
	}

	reg := registry.New()

	evPump, err := pump.New(log, reg)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to compositor")
		return exitUsageOrInit
	}

	eng := engine.New(log, reg, rulesStore, evPump, hwdec)

	srv, err := ipcserver.Start(log, eng)
	if err != nil {
		if errors.Is(err, ipcserver.ErrAnotherInstance) {
			log.Error().Msg("another wayvid instance is already running")
			return exitAnotherInst
		}
		log.Error().Err(err).Msg("failed to start control socket")
		return exitUsageOrInit
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rulesStore.Watch(ctx, func() {
		reloadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := eng.Submit(reloadCtx, engine.Command{Kind: engine.Reload}); err != nil {
			log.Warn().Err(err).Msg("automatic rule reload failed")
		}
	}); err != nil {
		log.Warn().Err(err).Msg("rules file watch failed; reload-config will still work on demand")
	}

	initCtx, initCancel := context.WithTimeout(ctx, 5*time.Second)
	if _, err := eng.Submit(initCtx, engine.Command{Kind: engine.Reload}); err != nil {
		log.Warn().Err(err).Msg("initial rule application failed")
	}
	initCancel()

	log.Info().Str("socket", srv.SocketPath()).Str("rules", *rulesPath).Msg("wayvid started")

	if err := evPump.Run(ctx, eng); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("event pump exited with error")
		return exitUsageOrInit
	}

	log.Info().Msg("wayvid stopped")
	return exitOK
}

func parseHwdec(s string) (player.HwdecMode, error) {
	switch s {
	case "auto", "":
		return player.HwdecAuto, nil
	case "force":
		return player.HwdecForce, nil
	case "no":
		return player.HwdecNo, nil
	default:
		return 0, fmt.Errorf("unknown hwdec mode %q", s)
	}
}

func defaultRulesPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "wayvid", "rules.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "wayvid-rules.toml"
	}
	return filepath.Join(home, ".config", "wayvid", "rules.toml")
}
