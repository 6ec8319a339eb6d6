package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/allow2/internal/config"
	"github.com/nextlevelbuilder/allow2/internal/identity"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("allow2 doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Settings:")
	fmt.Printf("    %-14s %s\n", "Environment:", cfg.Env())
	fmt.Printf("    %-14s %s\n", "API:", cfg.Env().APIURL())
	fmt.Printf("    %-14s %s\n", "Service:", cfg.Env().ServiceURL())
	checkSecret("Device token:", cfg.DeviceToken)
	checkSecret("State key:", cfg.State.SecretKey)
	if cfg.Timezone != "" {
		fmt.Printf("    %-14s %s\n", "Timezone:", cfg.Timezone)
	}

	fmt.Println()
	fmt.Println("  State:")
	fmt.Printf("    %-14s %s\n", "Backend:", cfg.State.Backend)
	fmt.Printf("    %-14s %s\n", "Path:", cfg.State.Path)
	if cfg.State.Keyring {
		checkKeyring(cfg.State.KeyringService)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	d, cleanup, err := openDevice(ctx, cfg)
	if err != nil {
		fmt.Printf("    %-14s %s\n", "Open:", err)
		return
	}
	defer cleanup()
	fmt.Printf("    %-14s OK (uuid %s)\n", "Open:", d.Identity().UUID())

	fmt.Println()
	fmt.Println("  Pairing:")
	if d.IsPaired() {
		st := d.State()
		fmt.Printf("    %-14s user %d, %d children\n", "Local:", st.UserID, len(st.Children))
	} else {
		fmt.Printf("    %-14s not paired\n", "Local:")
	}
	if d.Identity().DeviceToken() == "" {
		fmt.Printf("    %-14s skipped (no device token)\n", "Server:")
	} else if err := d.Probe(ctx); err != nil {
		fmt.Printf("    %-14s %s\n", "Server:", describeError(err))
	} else {
		fmt.Printf("    %-14s reachable\n", "Server:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(label, value string) {
	if value == "" {
		fmt.Printf("    %-14s (not configured)\n", label)
		return
	}
	fmt.Printf("    %-14s %s\n", label, identity.MaskToken(value))
}

// checkKeyring round-trips a throwaway entry through the OS keychain.
func checkKeyring(service string) {
	const probeUser = "allow2-doctor"
	if err := gokeyring.Set(service, probeUser, "ok"); err != nil {
		fmt.Printf("    %-14s UNAVAILABLE (%s)\n", "Keyring:", err)
		return
	}
	gokeyring.Delete(service, probeUser)
	fmt.Printf("    %-14s OK (service %q)\n", "Keyring:", service)
}
