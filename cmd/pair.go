package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/allow2/internal/config"
	"github.com/nextlevelbuilder/allow2/internal/device"
	"github.com/nextlevelbuilder/allow2/internal/pairing"
	"github.com/nextlevelbuilder/allow2/internal/qr"
)

func pairCmd() *cobra.Command {
	var (
		name   string
		useQR  bool
		qrOut  string
		qrSize int
	)
	cmd := &cobra.Command{
		Use:   "pair [user]",
		Short: "Pair this device with a parent account",
		Long: "Pair with the parent's email and password, or with --qr show a code the parent\n" +
			"scans in the Allow2 app while this command waits for the pairing to complete.",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			cfg, d, cleanup := mustOpenDevice(ctx)
			defer cleanup()

			if d.IsPaired() {
				fail(errAlreadyPairedHint(d))
			}

			deviceName := resolveDeviceName(name, cfg)
			if useQR {
				if qrOut == "" {
					qrOut = filepath.Join(config.Dir(), "pair-qr.png")
				}
				pairWithQR(ctx, d, deviceName, qrOut, qrSize)
				return
			}

			var user string
			if len(args) == 1 {
				user = args[0]
			} else {
				var err error
				if user, err = promptString("Parent account email", "", ""); err != nil {
					fail(err)
				}
			}
			pass, err := promptPassword("Password", "for "+user)
			if err != nil {
				fail(err)
			}

			res, err := d.Pair(ctx, user, pass, deviceName)
			if err != nil {
				fail(err)
			}
			printPaired(res)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "device name shown to the parent (default: config device_name or hostname)")
	cmd.Flags().BoolVar(&useQR, "qr", false, "pair by QR code instead of credentials")
	cmd.Flags().StringVar(&qrOut, "out", "", "where to write the QR image (default: config dir)")
	cmd.Flags().IntVar(&qrSize, "size", 256, "QR image size in pixels")
	return cmd
}

func errAlreadyPairedHint(d *device.Device) error {
	st := d.State()
	return fmt.Errorf("already paired to parent user %d (run: allow2 unpair)", st.UserID)
}

func resolveDeviceName(flag string, cfg *config.Config) string {
	if flag != "" {
		return config.NormalizeDeviceName(flag)
	}
	return config.NormalizeDeviceName(cfg.DeviceName)
}

// pairWithQR fetches the pairing code, then polls until the parent scans it
// or the user interrupts.
func pairWithQR(ctx context.Context, d *device.Device, deviceName, out string, size int) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fail(err)
	}

	got := make(chan error, 1)
	d.RequestQR(ctx, deviceName, func(img image.Image, err error) {
		if err != nil {
			got <- err
			return
		}
		got <- qr.Save(img, out, size)
	})
	if err := <-got; err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render("Could not fetch the pairing code: "+describeError(err)))
		if err := writePlaceholder(d.Identity().UUID(), out, size); err != nil {
			fail(err)
		}
		fmt.Fprintln(os.Stderr, "A placeholder was written; it cannot be used for pairing.")
		return
	}

	fmt.Printf("Pairing code for %q written to %s\n", deviceName, out)
	fmt.Println("Scan it in the Allow2 parent app. Waiting... (Ctrl-C to stop)")

	done := make(chan struct{})
	var (
		result  *pairing.Result
		pairErr error
	)
	d.StartPairing(ctx, func(res *pairing.Result, err error) {
		result, pairErr = res, err
		close(done)
	})

	select {
	case <-done:
		if pairErr != nil {
			fail(pairErr)
		}
		printPaired(result)
	case <-ctx.Done():
		d.StopPairing()
		fmt.Println("\nPairing cancelled.")
	}
}

func writePlaceholder(content, out string, size int) error {
	img, err := qr.Placeholder(content, size)
	if err != nil {
		return err
	}
	return qr.Save(img, out, 0)
}

func printPaired(res *pairing.Result) {
	fmt.Println(okStyle.Render("Paired.") + fmt.Sprintf(" Parent user %d.", res.UserID))
	if res.ChildID > 0 {
		fmt.Printf("This device is bound to child %d.\n", res.ChildID)
	}
	fmt.Println()
	fmt.Println(headingStyle.Render("Children"))
	fmt.Println(renderChildren(res.Children, res.ChildID))
}

func unpairCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "unpair",
		Short: "Forget the local pairing (the parent can also remove the device in the app)",
		Run: func(cmd *cobra.Command, args []string) {
			_, d, cleanup := mustOpenDevice(context.Background())
			defer cleanup()

			if !d.IsPaired() {
				fmt.Println("Device is not paired.")
				return
			}
			if !yes {
				ok, err := promptConfirm("Forget the pairing on this device?", false)
				if err != nil {
					fail(err)
				}
				if !ok {
					return
				}
			}
			if err := d.Unpair(); err != nil {
				fail(err)
			}
			fmt.Println("Pairing removed.")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func qrCmd() *cobra.Command {
	var (
		out      string
		size     int
		terminal bool
	)
	cmd := &cobra.Command{
		Use:   "qr [device name]",
		Short: "Fetch the pairing QR code for this device",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			cfg, d, cleanup := mustOpenDevice(ctx)
			defer cleanup()

			flagName := ""
			if len(args) == 1 {
				flagName = args[0]
			}
			deviceName := resolveDeviceName(flagName, cfg)

			if terminal {
				art, err := qr.Terminal(d.Identity().UUID())
				if err != nil {
					fail(err)
				}
				fmt.Print(art)
				fmt.Println("Device", d.Identity().UUID())
				return
			}

			img, err := qr.Fetch(ctx, newTransport(cfg), d.Identity(), deviceName)
			if err != nil {
				fail(err)
			}
			if out == "" {
				out = "allow2-qr.png"
			}
			if err := qr.Save(img, out, size); err != nil {
				fail(err)
			}
			fmt.Printf("QR code for %q written to %s\n", deviceName, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; format from extension (default allow2-qr.png)")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	cmd.Flags().BoolVar(&terminal, "terminal", false, "print the device id as a terminal QR instead of fetching")
	return cmd
}
