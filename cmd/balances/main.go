package main

import (
	"context"
	"flag"
	"fmt"

	"podcast-credits-go/internal/billing"
	"podcast-credits-go/internal/common"
	"podcast-credits-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	userFlag := flag.String("user", "", "User id to report on (required)")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("Missing required -user flag")
	}

	logger.Info("Starting balance query", zap.String("user_id", *userFlag))

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

	snapshot, err := reporting.WalletSnapshot(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to load wallet snapshot", zap.Error(err))
	}

	ledgerBalance, err := reporting.Balance(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to compute ledger balance", zap.Error(err))
	}

	common.PrintHeader("WALLET BALANCE REPORT", common.DefaultWidth)

	fmt.Printf("\n┌─ User: %s\n", snapshot.UserId)
	fmt.Printf("│  Tier: %s\n", snapshot.Tier)
	fmt.Printf("│  Period: %s\n", snapshot.PeriodKey)
	common.PrintBoxSeparator(78)
	common.PrintCreditRow("Monthly allocation", snapshot.MonthlyCredits, false)
	common.PrintCreditRow("Rollover", snapshot.RolloverCredits, false)
	common.PrintCreditRow("Allocation available", snapshot.MonthlyAllocationAvailable, false)
	common.PrintCreditRow("Purchased", snapshot.PurchasedCredits, false)
	common.PrintCreditRow("Purchased available", snapshot.PurchasedCreditsAvailable, false)
	common.PrintCreditRow("Total available", snapshot.TotalAvailable, true)

	summary := fmt.Sprintf("SUMMARY: wallet total %s, ledger total %s",
		snapshot.TotalAvailable.String(), ledgerBalance.String())
	common.PrintFooter(summary, common.DefaultWidth)

	if !snapshot.TotalAvailable.Equal(ledgerBalance) {
		logger.Warn("Wallet cache disagrees with ledger",
			zap.String("user_id", *userFlag),
			zap.String("wallet_total", snapshot.TotalAvailable.String()),
			zap.String("ledger_total", ledgerBalance.String()))
	}

	logger.Info("Balance query completed",
		zap.String("user_id", *userFlag),
		zap.String("total_available", snapshot.TotalAvailable.String()))
}
