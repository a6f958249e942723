package main

import (
	"context"
	"flag"
	"fmt"

	"podcast-credits-go/internal/billing"
	"podcast-credits-go/internal/common"
	"podcast-credits-go/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "User id to grant credits to (required)")
	creditsFlag := flag.String("credits", "", "Credit amount to grant (required)")
	reasonFlag := flag.String("reason", "support goodwill", "Human-readable grant reason")
	notesFlag := flag.String("notes", "", "Extra notes for the ledger entry")
	flag.Parse()

	if *userFlag == "" || *creditsFlag == "" {
		logger.Fatal("Missing required flags, need -user and -credits")
	}

	credits, err := decimal.NewFromString(*creditsFlag)
	if err != nil {
		logger.Fatal("Invalid -credits value", zap.String("credits", *creditsFlag), zap.Error(err))
	}

	logger.Info("Starting credit grant",
		zap.String("user_id", *userFlag),
		zap.String("credits", credits.String()))

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

	engine := billing.NewRefundEngine(creditStore, nil)

	entry, err := engine.Award(ctx, billing.AwardRequest{
		UserId:  *userFlag,
		Credits: credits,
		Reason:  *reasonFlag,
		Notes:   *notesFlag,
	})
	if err != nil {
		logger.Fatal("Failed to grant credits", zap.Error(err))
	}

	reporting := billing.NewReporting(creditStore)
	snapshot, err := reporting.WalletSnapshot(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to load wallet snapshot", zap.Error(err))
	}

	common.PrintHeader("CREDIT GRANT", common.DefaultWidth)

	fmt.Printf("\n┌─ User: %s\n", *userFlag)
	fmt.Printf("│  Entry: #%d\n", entry.Id)
	fmt.Printf("│  Granted: %s\n", entry.AmountCredits.String())
	fmt.Printf("└  Total available: %s\n", snapshot.TotalAvailable.String())

	summary := fmt.Sprintf("SUMMARY: granted %s credits to %s (entry #%d)",
		entry.AmountCredits.String(), *userFlag, entry.Id)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Credit grant completed",
		zap.String("user_id", *userFlag),
		zap.Int64("entry_id", entry.Id),
		zap.String("total_available", snapshot.TotalAvailable.String()))
}
