package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/allow2/internal/authz"
	"github.com/nextlevelbuilder/allow2/internal/device"
	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

func checkCmd() *cobra.Command {
	var (
		logUsage   bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "check [childId] [activity...]",
		Short: "Check whether a child may use activities right now",
		Long: "Activities are names (internet, gaming, screentime...) or numeric ids.\n" +
			"Without arguments the child and activities are chosen interactively.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			_, d, cleanup := mustOpenDevice(ctx)
			defer cleanup()

			childID, activities := childAndActivities(d, args)
			res, err := d.Check(ctx, childID, activities, logUsage)
			if err != nil {
				fail(err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(resultJSON(res), "", "  ")
				if err != nil {
					fail(err)
				}
				fmt.Println(string(data))
			} else {
				fmt.Println(renderResult(res, time.Now()))
			}
			if !res.Allowed() {
				os.Exit(2)
			}
		},
	}
	cmd.Flags().BoolVar(&logUsage, "log", false, "log usage against the child's quota")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// childAndActivities parses [childId] [activity...], prompting for what is missing.
// childId 0 selects the child the device is bound to.
func childAndActivities(d *device.Device, args []string) (int, []protocol.Activity) {
	var childID int
	if len(args) > 0 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			fail(fmt.Errorf("invalid child id %q", args[0]))
		}
		childID = id
		args = args[1:]
	} else if d.State().ChildID == 0 {
		childID = promptChild(d.Children())
	}

	activities := make([]protocol.Activity, 0, len(args))
	for _, a := range args {
		act, err := protocol.ParseActivity(a)
		if err != nil {
			fail(err)
		}
		activities = append(activities, act)
	}
	if len(activities) == 0 {
		activities = promptActivities()
	}
	return childID, activities
}

func promptChild(children map[int]string) int {
	if len(children) == 0 {
		return 0
	}
	opts := make([]SelectOption[int], 0, len(children))
	for _, id := range slices.Sorted(maps.Keys(children)) {
		opts = append(opts, SelectOption[int]{Label: fmt.Sprintf("%s (%d)", children[id], id), Value: id})
	}
	id, err := promptSelect("Which child?", opts, 0)
	if err != nil {
		fail(err)
	}
	return id
}

func promptActivities() []protocol.Activity {
	opts := make([]SelectOption[protocol.Activity], 0, 10)
	for a := protocol.ActivityInternet; a <= protocol.ActivityPhoneTime; a++ {
		opts = append(opts, SelectOption[protocol.Activity]{Label: a.String(), Value: a})
	}
	picked, err := promptMultiSelect("Activities", "space to toggle, enter to confirm", opts, []protocol.Activity{protocol.ActivityInternet})
	if err != nil {
		fail(err)
	}
	if len(picked) == 0 {
		fail(fmt.Errorf("no activities selected"))
	}
	return picked
}

type activityJSON struct {
	ID        protocol.Activity `json:"id"`
	Name      string            `json:"name"`
	Allowed   bool              `json:"allowed"`
	Banned    bool              `json:"banned"`
	Timed     bool              `json:"timed"`
	Remaining int64             `json:"remaining_seconds,omitempty"`
}

func resultJSON(res *authz.Result) map[string]any {
	acts := make([]activityJSON, 0)
	for _, a := range res.Activities() {
		acts = append(acts, activityJSON{
			ID:        a.ID,
			Name:      a.Name,
			Allowed:   a.Allowed(),
			Banned:    a.Banned,
			Timed:     a.Timed,
			Remaining: int64(a.Remaining / time.Second),
		})
	}
	out := map[string]any{
		"allowed":    res.Allowed(),
		"fail_open":  res.IsFailOpen(),
		"activities": acts,
	}
	if !res.Expires().IsZero() {
		out["expires"] = res.Expires().UTC().Format(time.RFC3339)
	}
	if why := res.Explanation(); why != "" {
		out["explanation"] = why
	}
	if today, ok := res.Today(); ok {
		out["today"] = today.Name
	}
	return out
}
