// Package queuectl holds the operator commands for the moderation queue.
package queuectl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ivankudzin/modqueue/internal/app/platform"
)

// OpenFunc builds the platform a command runs against.
type OpenFunc func(ctx context.Context) (*platform.Platform, error)

func NewRoot(open OpenFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Moderation queue operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(open),
		newSeedContentCommand(open),
		newEnqueueCommand(open),
		newListCommand(open),
		newStatusCommand(open),
		newOverviewCommand(open),
		newRequeueCommand(open),
		newRemoveCommand(open),
		newSweepCommand(open),
		newTokenCommand(open),
	)
	return root
}

// withPlatform opens the platform for one command and closes it afterwards.
func withPlatform(ctx context.Context, open OpenFunc, fn func(p *platform.Platform) error) error {
	p, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = p.Close()
	}()
	return fn(p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
