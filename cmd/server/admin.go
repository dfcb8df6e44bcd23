package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"reunite-go/internal/core/lifecycle"
	"reunite-go/internal/storage"
	"reunite-go/internal/util/timezone"
	"reunite-go/internal/utils"

	"github.com/spf13/cobra"
)

var clearMatchedCmd = &cobra.Command{
	Use:   "clear-matched",
	Short: "Remove all matched report pairs",
	Long: `Remove every missing report that has been matched together with its
linked found report. Pending and unlinked reports are kept.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runClear(cmd, lifecycle.OperationClearMatched)
	},
}

var resetAllCmd = &cobra.Command{
	Use:   "reset-all",
	Short: "Remove all reports and their images",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runClear(cmd, lifecycle.OperationResetAll)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print report statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(clearMatchedCmd, resetAllCmd, statsCmd)

	clearMatchedCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	resetAllCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runClear(cmd *cobra.Command, operation string) error {
	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Run %s? This cannot be undone. [y/N]: ", operation)) {
		fmt.Println("Aborted.")
		return nil
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	manager := a.manager(nil, nil)
	run := manager.ClearMatched
	if operation == lifecycle.OperationResetAll {
		run = manager.ResetAll
	}
	counts, err := run(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	fmt.Printf("Removed %d missing and %d found report(s)\n", counts.MissingRemoved, counts.FoundRemoved)
	return nil
}

func runStats(_ *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := a.repo.Stats(ctx)
	if err != nil {
		return err
	}
	files := 0
	for _, kind := range []storage.Kind{storage.KindMissing, storage.KindFound} {
		list, err := a.images.List(kind)
		if err != nil {
			return err
		}
		files += len(list)
	}
	sys := utils.GetSystemStats(nil)

	fmt.Printf("Missing reports:  %d pending, %d matched\n", stats.MissingPending, stats.MissingMatched)
	fmt.Printf("Found reports:    %d linked, %d unlinked\n", stats.FoundLinked, stats.FoundUnlinked)
	fmt.Printf("Stored images:    %d\n", files)
	if !stats.LatestReport.IsZero() {
		fmt.Printf("Latest report:    %s\n", timezone.RFC3339(stats.LatestReport))
	}
	fmt.Printf("Process memory:   %s\n", utils.FormatBytes(sys.MemorySys))
	return nil
}
