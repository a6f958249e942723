package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"time"

	"podcast-credits-go/internal/billing"
	"podcast-credits-go/internal/common"
	"podcast-credits-go/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// monthWindow returns the [start, end) UTC bounds for a "2006-01" month key.
func monthWindow(monthKey string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", monthKey)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", monthKey, err)
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "User id to report on (required)")
	monthFlag := flag.String("month", time.Now().UTC().Format("2006-01"), "Month to report (YYYY-MM)")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("Missing required -user flag")
	}

	start, end, err := monthWindow(*monthFlag)
	if err != nil {
		logger.Fatal("Invalid month flag", zap.Error(err))
	}

	logger.Info("Starting usage query",
		zap.String("user_id", *userFlag),
		zap.String("month", *monthFlag))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	creditStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer creditStore.Close()

	reporting := billing.NewReporting(creditStore)

	breakdown, err := reporting.MonthBreakdown(ctx, *userFlag, start, end)
	if err != nil {
		logger.Fatal("Failed to compute usage breakdown", zap.Error(err))
	}

	categories := make([]string, 0, len(breakdown))
	for category := range breakdown {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	common.PrintHeader(fmt.Sprintf("USAGE REPORT %s", *monthFlag), common.DefaultWidth)

	fmt.Printf("\n┌─ User: %s\n", *userFlag)
	fmt.Printf("│  Categories: %d\n", len(categories))
	common.PrintBoxSeparator(78)

	total := decimal.Zero
	for i, category := range categories {
		symbol := common.BoxPrefix(i == len(categories)-1)
		fmt.Printf("%s %-20s: %20s\n", symbol, category, breakdown[category].String())
		total = total.Add(breakdown[category])
	}

	summary := fmt.Sprintf("SUMMARY: %s credits consumed in %s", total.String(), *monthFlag)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Usage query completed",
		zap.String("user_id", *userFlag),
		zap.String("month", *monthFlag),
		zap.String("total", total.String()))
}
