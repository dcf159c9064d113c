package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"treasury-engine/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		platform        string
		adminIDsStr     string
		riskTier        string
		dryRun          bool
		pollIntervalStr string
		maxPositionsStr string
		maxPositionUSD  string
		maxLeverageStr  string
		maxDailyLoss    string
		confirm         bool
	)

	// defaults
	pollIntervalStr = "30s"
	maxPositionsStr = "5"
	maxPositionUSD = "1000"
	maxLeverageStr = "3"
	maxDailyLoss = "500"

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("TREASURY ENGINE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire up your treasury desk.\n"))

	// platform
	fmt.Println(stepStyle.Render("STEP 1: PRICE FEED"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select price feed platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Hyperliquid", "hyperliquid"),
					huh.NewOption("Static (testing)", "static"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	// admins
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TREASURY ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: OPERATORS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin IDs").
				Description("Comma-separated numeric actor ids allowed to trade").
				Value(&adminIDsStr).
				Validate(func(s string) error {
					_, err := parseAdminIDs(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// risk tier
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TREASURY ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: RISK TIER"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Position sizing tier").
				Options(
					huh.NewOption("Conservative (1% of portfolio)", "conservative"),
					huh.NewOption("Moderate (2%)", "moderate"),
					huh.NewOption("Aggressive (5%)", "aggressive"),
					huh.NewOption("Max risk (10%)", "max-risk"),
				).
				Value(&riskTier),
			huh.NewConfirm().
				Title("Dry run mode?").
				Description("Simulate fills without touching any venue").
				Value(&dryRun),
		),
	).Run()
	if err != nil {
		return err
	}

	// limits
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TREASURY ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: LIMITS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Max Open Positions").
				Value(&maxPositionsStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Max Position Size (USD)").
				Value(&maxPositionUSD).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Max Leverage").
				Value(&maxLeverageStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Max Daily Loss (USD)").
				Value(&maxDailyLoss).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Poll Interval").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&pollIntervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TREASURY ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Platform: %s\nAdmins: %s\nTier: %s\nDry run: %v\nMax positions: %s\nMax position USD: %s\nInterval: %s\n",
		platform, adminIDsStr, riskTier, dryRun, maxPositionsStr, maxPositionUSD, pollIntervalStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	adminIDs, err := parseAdminIDs(adminIDsStr)
	if err != nil {
		return err
	}
	pollInterval, _ := time.ParseDuration(pollIntervalStr)
	maxPositions, _ := strconv.Atoi(maxPositionsStr)
	maxLeverage, _ := strconv.Atoi(maxLeverageStr)

	cfgTmp := config.ConfigTmp{
		Platform:     platform,
		AdminIDs:     adminIDs,
		DryRun:       dryRun,
		RiskTier:     riskTier,
		PollInterval: pollInterval,
	}
	cfgTmp.Limits.MaxPositions = maxPositions
	cfgTmp.Limits.MaxPositionUSD = maxPositionUSD
	cfgTmp.Limits.MaxLeverage = maxLeverage
	cfgTmp.Limits.MaxDailyLoss = maxDailyLoss

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting engine...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func parseAdminIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one admin id is required")
	}
	return ids, nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}
