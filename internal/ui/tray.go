// Package ui provides the system-tray control surface: a status line, a
// pause/resume toggle for rendering, and quit.
package ui

import (
	"log/slog"
	"time"

	"github.com/getlantern/systray"

	"github.com/clipbench/clipbench-agent/internal/logging"
	"github.com/clipbench/clipbench-agent/internal/render"
)

// Tray is the agent's system-tray presence. Run blocks until Quit.
type Tray struct {
	logger  *slog.Logger
	runner  *render.Runner
	version string
	onQuit  func()
}

func New(logger *slog.Logger, runner *render.Runner, version string, onQuit func()) *Tray {
	return &Tray{
		logger:  logging.WithComponent(logger, "tray"),
		runner:  runner,
		version: version,
		onQuit:  onQuit,
	}
}

// Run starts the tray loop on the calling goroutine. Most platforms require
// this to be the main thread.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit tears the tray down, unblocking Run.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("ClipBench")
	systray.SetTooltip("ClipBench agent " + t.version)

	status := systray.AddMenuItem("Idle", "Current render status")
	status.Disable()
	systray.AddSeparator()
	pause := systray.AddMenuItem("Pause rendering", "Refuse new render jobs")
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Stop the agent")

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pause.ClickedCh:
				paused := !t.runner.Paused()
				t.runner.SetPaused(paused)
				if paused {
					pause.SetTitle("Resume rendering")
				} else {
					pause.SetTitle("Pause rendering")
				}
			case res := <-t.runner.Results():
				if res.Err != nil {
					status.SetTitle("Last render failed: " + res.Kind)
				} else {
					status.SetTitle("Idle")
				}
			case <-ticker.C:
				if t.runner.Busy() {
					status.SetTitle("Rendering...")
				}
			case <-quit.ClickedCh:
				t.logger.Info("quit requested from tray")
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.logger.Info("tray exited")
	if t.onQuit != nil {
		t.onQuit()
	}
}
