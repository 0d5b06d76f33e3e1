package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	mergegate "go-mergegate"
	"go-mergegate/database"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configPath string

	jobID        string
	shards       []string
	title        string
	prompt       string
	description  string
	diffPaths    []string
	branch       string
	requiresMath bool
	repoDir      string

	releaseHolder string
	verifySecret  string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "mergegate",
		Short: "Guarded merge gateway for agent-produced changes",
		Long: `Mergegate drives change proposals from autonomous agents through
shard lease acquisition, a chain of external validators, and a signed
attestation before handing the branch off to the version-control host.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	var proposeCmd = &cobra.Command{
		Use:   "propose",
		Short: "Run one proposal lifecycle: prepare, validate, open PR",
		RunE:  runPropose,
	}
	proposeCmd.Flags().StringVar(&jobID, "job-id", "", "Job identifier (generated when empty)")
	proposeCmd.Flags().StringSliceVar(&shards, "shard", nil, "Shard to lease (repeatable)")
	proposeCmd.Flags().StringVar(&title, "title", "", "Pull request title")
	proposeCmd.Flags().StringVar(&prompt, "prompt", "", "Instruction prompt for the change")
	proposeCmd.Flags().StringVar(&description, "description", "", "Pull request description")
	proposeCmd.Flags().StringSliceVar(&diffPaths, "diff", nil, "Changed file path (repeatable)")
	proposeCmd.Flags().StringVar(&branch, "branch", "", "Branch name (default ai/<job-id>)")
	proposeCmd.Flags().BoolVar(&requiresMath, "requires-math", false, "Force the math validator to run")
	proposeCmd.Flags().StringVar(&repoDir, "repo", ".", "Repository directory to push from")
	_ = proposeCmd.MarkFlagRequired("title")

	var leasesCmd = &cobra.Command{
		Use:   "leases",
		Short: "List active shard leases",
		RunE:  runLeases,
	}

	var releaseCmd = &cobra.Command{
		Use:   "release <shard> [shard...]",
		Short: "Release shard leases held by a holder",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRelease,
	}
	releaseCmd.Flags().StringVar(&releaseHolder, "holder", "", "Current lease holder")
	_ = releaseCmd.MarkFlagRequired("holder")

	var verifyCmd = &cobra.Command{
		Use:   "verify <attestation.json>",
		Short: "Verify an attestation file's digest and signature",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&verifySecret, "secret", "", "Signing secret (default from environment)")

	rootCmd.AddCommand(proposeCmd, leasesCmd, releaseCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLeaseManager(cfg mergegate.Config, logger *slog.Logger) (*mergegate.LeaseManager, *database.Store, error) {
	var store, err = database.Open(cfg.StoreDSN)
	if err != nil {
		return nil, nil, err
	}

	var opts = append(cfg.LeaseOptions(), mergegate.WithLogger(logger))
	manager, err := mergegate.NewLeaseManager(store, opts...)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return manager, store, nil
}

func runPropose(cmd *cobra.Command, args []string) error {
	var (
		ctx    = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	)

	cfg, err := mergegate.LoadConfig(configPath)
	if err != nil {
		return err
	}

	manager, store, err := newLeaseManager(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if jobID == "" {
		jobID = uuid.New().String()
	}

	var host = mergegate.NewGitClient(repoDir)
	if cfg.Remote != "" {
		host.Remote = cfg.Remote
	}

	var gatewayOpts = append(cfg.GatewayOptions(), mergegate.WithGatewayLogger(logger))
	var gateway = mergegate.NewGateway(manager, host, gatewayOpts...)

	var cp = mergegate.ChangeProposal{
		JobID:        jobID,
		Shards:       shards,
		Title:        title,
		Prompt:       prompt,
		Description:  description,
		DiffPaths:    diffPaths,
		Branch:       branch,
		RequiresMath: requiresMath,
	}

	if err := gateway.Prepare(ctx, cp); err != nil {
		gateway.Abort(ctx)
		return fmt.Errorf("prepare failed: %w", err)
	}

	if err := gateway.ValidateLocal(ctx); err != nil {
		gateway.Abort(ctx)
		return fmt.Errorf("validation failed: %w", err)
	}

	attestationPath, err := gateway.OpenPR(ctx)
	if err != nil {
		gateway.Abort(ctx)
		return fmt.Errorf("open-pr failed: %w", err)
	}

	fmt.Printf("✓ Proposal %s merged into review. Attestation: %s\n", jobID, attestationPath)
	return nil
}

func runLeases(cmd *cobra.Command, args []string) error {
	cfg, err := mergegate.LoadConfig(configPath)
	if err != nil {
		return err
	}

	manager, store, err := newLeaseManager(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	leases, err := manager.Active(context.Background())
	if err != nil {
		return err
	}

	if len(leases) == 0 {
		fmt.Println("No active leases")
		return nil
	}

	fmt.Printf("%-20s %-36s %-12s %s\n", "SHARD", "HOLDER", "TTL LEFT", "ACQUIRED")
	for _, lease := range leases {
		fmt.Printf("%-20s %-36s %-12s %s\n",
			lease.Shard,
			lease.Holder,
			time.Until(lease.ExpiresAt).Round(time.Second),
			lease.AcquiredAt.Format(time.RFC3339))
	}

	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	cfg, err := mergegate.LoadConfig(configPath)
	if err != nil {
		return err
	}

	manager, store, err := newLeaseManager(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := manager.Release(context.Background(), args, releaseHolder); err != nil {
		return err
	}

	fmt.Printf("✓ Released %d shard(s) for %s\n", len(args), releaseHolder)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	att, err := mergegate.VerifyAttestation(args[0], verifySecret)
	if err != nil {
		return err
	}

	fmt.Printf("OK: attestation verified\n")
	fmt.Printf("  job_id: %s\n", att.JobID)
	fmt.Printf("  digest: %s\n", att.Digest)
	for _, v := range att.Validators {
		fmt.Printf("  validator %s@%s: %s\n", v.Name, v.Version, v.Status)
	}

	return nil
}
