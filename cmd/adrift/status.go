package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adrifthq/adrift/internal/config"
	"github.com/adrifthq/adrift/internal/device"
	"github.com/adrifthq/adrift/internal/difficulty"
	"github.com/adrifthq/adrift/internal/ledger"
	"github.com/adrifthq/adrift/internal/mirror"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/adrifthq/adrift/internal/storage"
	"github.com/adrifthq/adrift/internal/usage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show token quota and difficulty state",
	Long:  `Show the current daily token allowance, what remains, and the difficulty controller state for this device.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet logger for status mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	deviceID, err := device.ID(ctx, store.Slots())
	if err != nil {
		return fmt.Errorf("failed to resolve device identity: %w", err)
	}

	led, err := ledger.New(ctx, store.Slots(), logger)
	if err != nil {
		return fmt.Errorf("failed to open token ledger: %w", err)
	}
	defer led.Close()

	usageOpts := []usage.Option{usage.WithDailyLimit(cfg.Quota.DailyLimit)}
	if cfg.Mirror.BaseURL != "" {
		usageOpts = append(usageOpts,
			usage.WithRemote(mirror.NewClient(cfg.Mirror.BaseURL, parseDuration(cfg.Mirror.Timeout, 10*time.Second))))
	}
	meter := usage.NewService(deviceID, led, logger, usageOpts...)

	rec := meter.GetUsage(ctx)
	diff := difficulty.NewManager(ctx, store.Slots(), logger)

	printStatus(deviceID, cfg.Mirror.BaseURL, rec, diff)

	return nil
}

// printStatus prints the quota and difficulty report with colors
func printStatus(deviceID, mirrorURL string, rec storage.UsageRecord, diff *difficulty.Manager) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("ADRIFT STATUS")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Device:     %s\n", deviceID)
	if mirrorURL != "" {
		fmt.Printf("Mirror:     %s\n", mirrorURL)
	} else {
		fmt.Printf("Mirror:     (local ledger only)\n")
	}
	fmt.Printf("Last reset: %s\n", rec.LastReset.Local().Format("2006-01-02 15:04"))
	fmt.Println()

	cyan.Print("Tokens:     ")
	remaining := rec.Remaining()
	switch {
	case remaining <= 0:
		red.Printf("%d/%d\n", rec.Used, rec.Limit)
		fmt.Println("            → Daily allowance exhausted")
		fmt.Println("            → Resets after 24h or at the next UTC day")
	case remaining < quota.Cost(quota.OpStoryResponse):
		yellow.Printf("%d/%d\n", rec.Used, rec.Limit)
		fmt.Printf("            → %d remaining, not enough for a story turn\n", remaining)
	default:
		green.Printf("%d/%d\n", rec.Used, rec.Limit)
		fmt.Printf("            → %d remaining\n", remaining)
	}

	fmt.Println()
	m := diff.Metrics()
	fmt.Printf("Difficulty: %s\n", diff.Level())
	fmt.Printf("            Adaptive score: %.2f\n", diff.AdaptiveScore())
	fmt.Printf("            Success rate:   %.2f\n", m.SuccessRate)
	fmt.Printf("            Risk taken:     %.2f\n", m.RiskTaken)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
