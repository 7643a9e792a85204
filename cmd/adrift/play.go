package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adrifthq/adrift/internal/config"
	"github.com/adrifthq/adrift/internal/device"
	"github.com/adrifthq/adrift/internal/difficulty"
	"github.com/adrifthq/adrift/internal/game"
	"github.com/adrifthq/adrift/internal/gateway"
	"github.com/adrifthq/adrift/internal/ledger"
	"github.com/adrifthq/adrift/internal/mirror"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/adrifthq/adrift/internal/usage"
)

var playDifficulty string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play an interactive story in the terminal",
	Long:  `Start a story session. Generation calls are metered against the daily token quota; the session ends on victory, defeat, or /quit.`,
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playDifficulty, "difficulty", "", "Difficulty level (easy, normal, challenging, adaptive)")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Keep gameplay output clean; only warnings and errors reach the terminal
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

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

	led, err := ledger.New(ctx, store.Slots(), logger,
		ledger.WithGuardInterval(parseDuration(cfg.Ledger.GuardInterval, ledger.DefaultGuardInterval)))
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
	meter.StartPolling(parseDuration(cfg.Mirror.PollInterval, usage.DefaultPollInterval))
	defer meter.StopPolling()

	diff := difficulty.NewManager(ctx, store.Slots(), logger)
	applyDifficulty(ctx, diff, playDifficulty, cmd.Flags().Changed("difficulty"), cfg.Difficulty.Default)

	gen := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		Model:      cfg.Gateway.Model,
		Timeout:    parseDuration(cfg.Gateway.Timeout, gateway.DefaultTimeout),
		MaxRetries: cfg.Gateway.MaxRetries,
	}, logger)

	session := game.NewSession(gen, meter, diff, logger)

	return playLoop(ctx, session, meter, diff)
}

// applyDifficulty selects the session level without discarding the
// adaptation state the manager just loaded. An explicit --difficulty
// flag always applies; the configured default applies only when it
// actually changes the level, since SetLevel resets the adaptive model.
func applyDifficulty(ctx context.Context, diff *difficulty.Manager, flagLevel string, flagSet bool, configured string) {
	switch {
	case flagSet && flagLevel != "":
		diff.SetLevel(ctx, difficulty.ParseLevel(flagLevel))
	case configured != "":
		if level := difficulty.ParseLevel(configured); level != diff.Level() {
			diff.SetLevel(ctx, level)
		}
	}
}

func playLoop(ctx context.Context, session *game.Session, meter *usage.Service, diff *difficulty.Manager) error {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)
	magenta := color.New(color.FgMagenta)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("ADRIFT")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if !meter.Affordable(quota.OpInitialPrompt) {
		red.Println("Not enough tokens remain to start a story today.")
		printTokenLine(yellow, meter)
		return nil
	}

	scenario := session.GeneratePrompt(ctx)
	yellow.Println(scenario)
	fmt.Println()
	printTokenLine(magenta, meter)
	fmt.Println("Type your actions. Commands: /actions, /difficulty <level>, /status, /quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	turnStart := time.Now()
	narrative := scenario

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(ctx, input, narrative, session, meter, diff); quit {
				return nil
			}
			continue
		}

		actionTime := float64(time.Since(turnStart).Milliseconds())
		turn := session.Respond(ctx, input)

		fmt.Println()
		yellow.Println(turn.Text)
		fmt.Println()
		printTokenLine(magenta, meter)
		narrative = turn.Text

		riskLevel := diff.Config().QuickActions.RiskLevel
		success := turn.Status != game.StatusLost
		session.RecordOutcome(ctx, difficulty.Outcome{
			Success:      &success,
			ActionTimeMS: &actionTime,
			RiskLevel:    &riskLevel,
		})

		switch turn.Status {
		case game.StatusWon:
			green.Println("Victory! Your quest is complete.")
			return nil
		case game.StatusLost:
			red.Println("Defeat. The story ends here.")
			return nil
		}

		if !meter.HasTokens() {
			red.Println("Your daily tokens are spent. The story will wait for tomorrow.")
			return nil
		}

		turnStart = time.Now()
	}
}

func handleCommand(ctx context.Context, input, narrative string, session *game.Session, meter *usage.Service, diff *difficulty.Manager) (quit bool) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Println("Farewell, traveler.")
		return true

	case "/actions":
		actions := session.QuickActions(ctx, narrative)
		if len(actions) == 0 {
			yellow.Println("No suggestions right now.")
			break
		}
		cyan.Println("Suggested actions:")
		for _, a := range actions {
			fmt.Printf("  - %s\n", a)
		}

	case "/difficulty":
		if len(fields) < 2 {
			fmt.Printf("Current difficulty: %s\n", diff.Level())
			break
		}
		level := difficulty.ParseLevel(fields[1])
		diff.SetLevel(ctx, level)
		session.ClearQuickActionsCache()
		cyan.Printf("Difficulty set to %s\n", level)

	case "/status":
		rec := meter.GetUsage(ctx)
		fmt.Printf("Tokens: %d/%d used, %d remaining\n", rec.Used, rec.Limit, rec.Remaining())
		fmt.Printf("Difficulty: %s (adaptive score %.2f)\n", diff.Level(), diff.AdaptiveScore())

	default:
		yellow.Printf("Unknown command: %s\n", fields[0])
	}
	return false
}

func printTokenLine(c *color.Color, meter *usage.Service) {
	rec := meter.Current()
	c.Printf("[tokens %d/%d]\n", rec.Used, rec.Limit)
}
