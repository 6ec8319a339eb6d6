package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/allow2/internal/authz"
	"github.com/nextlevelbuilder/allow2/internal/config"
	"github.com/nextlevelbuilder/allow2/internal/device"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

func watchCmd() *cobra.Command {
	var logUsage bool
	cmd := &cobra.Command{
		Use:   "watch [childId] [activity...]",
		Short: "Check repeatedly until interrupted",
		Long: "Runs a recurring check and prints every change. Edits to the config file's\n" +
			"timezone and device_token are applied without restarting.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			cfg, d, cleanup := mustOpenDevice(ctx)
			defer cleanup()

			childID, activities := childAndActivities(d, args)

			if w, err := config.NewWatcher(resolveConfigPath()); err != nil {
				slog.Warn("config watcher unavailable", "error", err)
			} else {
				w.OnChange(applyReload(d, cfg))
				if err := w.Start(); err != nil {
					slog.Warn("config watcher unavailable", "error", err)
				} else {
					defer w.Stop()
				}
			}

			finished := make(chan struct{})
			var once sync.Once
			finish := func() { once.Do(func() { close(finished) }) }
			var last string
			d.StartChecking(ctx, childID, activities, logUsage, func(res *authz.Result, err error) {
				stamp := labelStyle.Render(time.Now().Format("15:04:05"))
				if err != nil {
					fmt.Printf("%s %s\n", stamp, warnStyle.Render(describeError(err)))
					// The loop ends itself on these.
					if errors.Is(err, protocol.ErrNotPaired) || errors.Is(err, protocol.ErrMissingChildID) {
						finish()
					}
					return
				}
				line := renderResult(res, time.Now())
				if line != last {
					fmt.Printf("%s %s\n", stamp, line)
					last = line
				}
				if res.IsFailOpen() {
					finish()
				}
			})

			select {
			case <-ctx.Done():
				fmt.Println()
			case <-finished:
			}
		},
	}
	cmd.Flags().BoolVar(&logUsage, "log", false, "log usage against the child's quota")
	return cmd
}

// applyReload returns a handler that applies settings which can change at runtime.
func applyReload(d *device.Device, current *config.Config) config.ChangeHandler {
	return func(next *config.Config) {
		if next.Timezone != "" && next.Timezone != current.Timezone {
			if err := d.SetTimezone(next.Timezone); err != nil {
				slog.Warn("reload: timezone not applied", "error", err)
			} else {
				slog.Info("reload: timezone updated", "timezone", next.Timezone)
			}
		}
		if next.DeviceToken != "" && next.DeviceToken != current.DeviceToken {
			if err := d.SetDeviceToken(next.DeviceToken); err != nil {
				slog.Warn("reload: device token not applied", "error", err)
			}
		}
		if next.Env() != current.Env() || next.State != current.State {
			slog.Warn("reload: environment and state changes need a restart")
		}
		*current = *next
	}
}
