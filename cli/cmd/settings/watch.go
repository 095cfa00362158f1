package settings

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compozy/strata/cli/helpers"
	"github.com/compozy/strata/engine/change"
	"github.com/compozy/strata/pkg/logger"
)

// NewWatchCommand prints the keys affected by every change until interrupted.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print affected keys whenever a settings file changes",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	addFormatFlag(cmd)
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log := logger.FromContext(ctx)

	svc, err := openService(ctx, contextLayout(ctx))
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	svc.OnChange(func(ev change.Event) {
		keys := ev.AffectedKeys()
		if format == helpers.FormatText {
			fmt.Fprintf(out, "%s: %v\n", ev.Source(), keys)
			return
		}
		if err := helpers.Encode(out, format, map[string]any{"source": ev.Source().String(), "keys": keys}); err != nil {
			log.Warn("failed to print change", "error", err)
		}
	})
	if err := svc.Watch(ctx); err != nil {
		return fmt.Errorf("failed to watch settings: %w", err)
	}
	log.Info("watching settings", "files", len(svc.WatchedFiles()))
	<-ctx.Done()
	return nil
}
