package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mergegate "go-mergegate"
	"go-mergegate/database"

	"github.com/eiannone/keyboard"
	"github.com/spf13/cobra"
)

var (
	storeDSN string
	interval time.Duration
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "leasemon",
		Short: "Live monitor for the shard lease table",
		Long: `Leasemon watches the shard lease store and redraws the table of
active leases, purging expired rows as it goes. Useful for observing
gateway contention during proposal lifecycles.`,
		RunE: runMonitor,
	}

	rootCmd.Flags().StringVar(&storeDSN, "db", "", "Lease store DSN (default from config/env)")
	rootCmd.Flags().DurationVar(&interval, "interval", 1*time.Second, "Refresh interval")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var ctx = context.Background()

	var dsn = storeDSN
	if dsn == "" {
		cfg, err := mergegate.LoadConfig("")
		if err != nil {
			return err
		}
		dsn = cfg.StoreDSN
	}

	store, err := database.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := mergegate.NewLeaseManager(store)
	if err != nil {
		return err
	}

	if err := printLeases(ctx, manager); err != nil {
		return err
	}

	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	var keyCh = make(chan rune)
	go func() {
		for {
			char, _, err := keyboard.GetKey()
			if err != nil {
				return
			}
			keyCh <- char
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := printLeases(ctx, manager); err != nil {
				fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			}
		case key := <-keyCh:
			switch key {
			case 'r', 'R':
				if err := printLeases(ctx, manager); err != nil {
					fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
				}
			case 'q', 'Q':
				fmt.Printf("\nShutting down\n")
				return nil
			}
		case <-sigCh:
			return nil
		}
	}
}

func printLeases(ctx context.Context, manager *mergegate.LeaseManager) error {
	leases, err := manager.Active(ctx)
	if err != nil {
		return err
	}

	fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top
	fmt.Printf("Shard Leases (%d active)\n", len(leases))
	fmt.Println("┌─────────────────────────────────────────────────────────────┐")

	if len(leases) == 0 {
		fmt.Println("│ [no active leases]")
	}

	for _, lease := range leases {
		fmt.Printf("│ %-20s %-24s ttl:%s\n",
			lease.Shard,
			lease.Holder,
			time.Until(lease.ExpiresAt).Round(time.Second))
	}

	fmt.Println("└─────────────────────────────────────────────────────────────┘")
	fmt.Printf("\nControls:\n  [r] Refresh now\n  [q] Quit\n")

	return nil
}
