package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/allow2/internal/check"
)

func requestCmd() *cobra.Command {
	var (
		dayType int
		lift    []int
		message string
	)
	cmd := &cobra.Command{
		Use:   "request [childId]",
		Short: "Ask the parent to change today's day type or lift bans",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			_, d, cleanup := mustOpenDevice(ctx)
			defer cleanup()

			req := check.ChildRequest{DayType: dayType, LiftBans: lift, Message: message}
			if len(args) == 1 {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					fail(fmt.Errorf("invalid child id %q", args[0]))
				}
				req.ChildID = id
			} else if d.State().ChildID == 0 {
				req.ChildID = promptChild(d.Children())
			}

			if err := d.Request(ctx, req); err != nil {
				fail(err)
			}
			fmt.Println(okStyle.Render("Request sent."), "The parent will be notified.")
		},
	}
	cmd.Flags().IntVar(&dayType, "day-type", 0, "day type id to switch today to")
	cmd.Flags().IntSliceVar(&lift, "lift", nil, "ban id to lift (repeatable)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message for the parent")
	return cmd
}
