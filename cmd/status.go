package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/allow2/internal/identity"
)

func statusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show device identity and pairing state",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, d, cleanup := mustOpenDevice(context.Background())
			defer cleanup()

			st := d.State()
			id := d.Identity()

			if jsonOutput {
				out := map[string]any{
					"uuid":         id.UUID(),
					"environment":  id.Environment(),
					"device_token": identity.MaskToken(id.DeviceToken()),
					"paired":       st.Paired(),
					"user_id":      st.UserID,
					"child_id":     st.ChildID,
					"timezone":     st.Timezone,
					"children":     st.Children,
					"state":        map[string]any{"backend": cfg.State.Backend, "path": cfg.State.Path, "keyring": cfg.State.Keyring},
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					fail(err)
				}
				fmt.Println(string(data))
				return
			}

			fmt.Println(headingStyle.Render("Device"))
			fmt.Println(field("UUID", id.UUID()))
			fmt.Println(field("Environment", id.Environment()))
			fmt.Println(field("Device token", identity.MaskToken(id.DeviceToken())))
			fmt.Println(field("Timezone", st.Timezone))
			fmt.Println(field("State", cfg.State.Backend+" "+cfg.State.Path))
			fmt.Println()

			fmt.Println(headingStyle.Render("Pairing"))
			if st.Paired() {
				fmt.Println(field("Status", okStyle.Render("paired")))
				fmt.Println(field("Parent user", st.UserID))
				if st.ChildID > 0 {
					fmt.Println(field("Bound child", st.ChildID))
				}
			} else {
				fmt.Println(field("Status", warnStyle.Render("not paired")))
			}
			fmt.Println()

			fmt.Println(headingStyle.Render("Children"))
			fmt.Println(renderChildren(st.Children, st.ChildID))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
