// Command armctl is a thin operator CLI over pkg/robot: connect to an
// adapter, load a cold-configuration profile, enable a control mode,
// and print feedback until interrupted. It exists for manual bring-up
// and bench testing, not as a production control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/armsix/armcan/pkg/can/socketcan"
	_ "github.com/armsix/armcan/pkg/can/usbcan"
	_ "github.com/armsix/armcan/pkg/can/virtual"
	"github.com/armsix/armcan/pkg/config"
	"github.com/armsix/armcan/pkg/robot"
	"github.com/armsix/armcan/pkg/state"
)

func main() {
	iface := flag.String("iface", "virtual", "adapter backend: socketcan, usbcan, virtual")
	device := flag.String("device", "virtual0", "interface name or serial, backend-dependent")
	bitrate := flag.Int("bitrate", 1_000_000, "bus bitrate in bits/s")
	profilePath := flag.String("profile", "", "path to a cold-configuration profile (ini)")
	mode := flag.String("mode", "position", "control mode to enable: position, mit, none")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *iface, *device, *bitrate, *profilePath, *mode); err != nil {
		logger.Error("armctl", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, iface, device string, bitrate int, profilePath, mode string) error {
	cfg := robot.Config{
		Interface:  iface,
		Device:     device,
		BitrateBps: bitrate,
		Logger:     logger,
	}

	if profilePath != "" {
		cold, err := config.LoadProfile(profilePath)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		cfg.ColdConfig = &cold
	}

	d := robot.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	standby, err := d.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer standby.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "none":
		logger.Info("connected in standby, not enabling")
		<-sigCtx.Done()
		return nil
	case "position":
		active, err := standby.EnablePositionMode(sigCtx, robot.EnableConfig{})
		if err != nil {
			return fmt.Errorf("enable position mode: %w", err)
		}
		logger.Info("enabled position mode")
		watch(sigCtx, active.Observer(), logger)
		_, err = active.Disable()
		return err
	case "mit":
		active, err := standby.EnableMitMode(sigCtx, robot.EnableConfig{})
		if err != nil {
			return fmt.Errorf("enable mit mode: %w", err)
		}
		logger.Info("enabled mit mode")
		watch(sigCtx, active.Observer(), logger)
		_, err = active.Disable()
		return err
	default:
		return fmt.Errorf("unknown -mode %q", mode)
	}
}

// watch logs joint-position change notifications until ctx is done.
func watch(ctx context.Context, obs robot.Observer, logger *slog.Logger) {
	ch, cancel := obs.Subscribe(state.CategoryJointPosition)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if snap, ok := obs.JointPosition(); ok {
				logger.Debug("joint position", "joints", snap.Joints)
			}
		}
	}
}
