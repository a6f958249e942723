package main

import (
	"context"
	"flag"
	"fmt"

	"podcast-credits-go/internal/billing"
	"podcast-credits-go/internal/common"
	"podcast-credits-go/internal/config"
	"podcast-credits-go/internal/models"

	"go.uber.org/zap"
)

func formatKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) > 12 {
		return key[:12] + "..."
	}
	return key
}

func directionSign(direction models.Direction) string {
	if direction == models.DirectionDebit {
		return "-"
	}
	return "+"
}

func printEntry(entry models.LedgerEntry, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s #%-6d %s%12s  %-22s (key: %s, at: %s)\n",
		symbol,
		entry.Id,
		directionSign(entry.Direction),
		entry.AmountCredits.String(),
		entry.Reason,
		formatKey(entry.IdempotencyKey),
		entry.CreatedAt.Format("2006-01-02 15:04:05"))

	if entry.Notes != "" {
		fmt.Printf("%s   %s\n", common.BoxDetailPrefix(isLast), entry.Notes)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "User id to report on (required)")
	limitFlag := flag.Int("limit", 50, "Maximum entries to print")
	offsetFlag := flag.Int("offset", 0, "Entries to skip from the newest")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("Missing required -user flag")
	}

	logger.Info("Starting history query", zap.String("user_id", *userFlag))

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

	entries, err := reporting.LedgerPage(ctx, *userFlag, *limitFlag, *offsetFlag)
	if err != nil {
		logger.Fatal("Failed to load ledger page", zap.Error(err))
	}

	common.PrintHeader("LEDGER HISTORY REPORT", common.DefaultWidth)

	fmt.Printf("\n┌─ User: %s\n", *userFlag)
	fmt.Printf("│  Entries: %d (offset %d)\n", len(entries), *offsetFlag)
	common.PrintBoxSeparator(78)

	for i, entry := range entries {
		printEntry(entry, i == len(entries)-1)
	}

	summary := fmt.Sprintf("SUMMARY: %d entries printed", len(entries))
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("History query completed",
		zap.String("user_id", *userFlag),
		zap.Int("entries", len(entries)))
}
