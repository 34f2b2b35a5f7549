package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/joho/godotenv"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/verify"
)

var (
	desiredPath  string
	providerPath string
	dryRun       bool
	apply        bool
	verbose      bool
	resolver     string
	queryTimeout time.Duration

	log logr.Logger
)

var rootCmd = &cobra.Command{
	Use:   "yk-dns-reconciler",
	Short: "Converge a DNS zone onto a declared record set",
	Long: `yk-dns-reconciler fetches the current records of a zone from the
configured registrar, diffs them against a desired-state file, and applies
the difference. Without --apply it only prints the plan.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Credentials may live in a .env next to the working directory.
		_ = godotenv.Load()
		log = newLogger(verbose)
	},
	RunE: runReconcile,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the desired-state file without contacting the registrar",
	RunE:  runValidate,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Query a resolver and report which desired records have propagated",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)

	rootCmd.PersistentFlags().StringVarP(&desiredPath, "desired", "d", "", "Path to the desired-state file (required)")
	rootCmd.PersistentFlags().StringVar(&providerPath, "provider-config", "", "Path to the provider config file (default $DNS_PROVIDER_PATH or configs/dns-provider.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without applying it (default behavior)")
	rootCmd.Flags().BoolVar(&apply, "apply", false, "Apply the computed plan")

	verifyCmd.Flags().StringVar(&resolver, "resolver", verify.DefaultResolver, "Resolver to query, host[:port]")
	verifyCmd.Flags().DurationVar(&queryTimeout, "timeout", 5*time.Second, "Per-query timeout")
}

// Execute runs the command tree and translates errors into the documented
// exit codes: 0 success or no-op, 1 validation/config error, 2 registrar
// error after retries exhausted.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ve *dns.ValidationError
	if errors.As(err, &ve) {
		return 1
	}
	var ae *dns.AuthError
	var rl *dns.RateLimitedError
	var tr *dns.TransientError
	var oe *reconcile.OpError
	if errors.As(err, &ae) || errors.As(err, &rl) || errors.As(err, &tr) || errors.As(err, &oe) {
		return 2
	}
	return 1
}

func newLogger(verbose bool) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

func loadDesired() (*config.DesiredState, error) {
	if desiredPath == "" {
		return nil, fmt.Errorf("--desired is required")
	}
	return config.LoadDesiredState(desiredPath)
}

func newReconciler() (*reconcile.Reconciler, error) {
	var cfg *config.ProviderConfig
	var err error
	if providerPath != "" {
		cfg, err = config.LoadProviderConfigFromPath(providerPath)
	} else {
		cfg, err = config.LoadProviderConfig()
	}
	if err != nil {
		return nil, err
	}

	provider, err := dns.NewProvider(cfg.Provider, log.WithName("dns-"+cfg.Provider), cfg.Settings)
	if err != nil {
		return nil, err
	}

	r := reconcile.New(provider, log.WithName("reconcile"))
	if cfg.Retry.MaxAttempts > 0 {
		r.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval > 0 {
		r.Retry.InitialInterval = time.Duration(cfg.Retry.InitialInterval)
	}
	return r, nil
}

func colorOutput() bool {
	return termenv.ColorProfile() != termenv.Ascii
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if dryRun && apply {
		return fmt.Errorf("--dry-run and --apply are mutually exclusive")
	}

	desired, err := loadDesired()
	if err != nil {
		return err
	}

	r, err := newReconciler()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	plan, err := r.Plan(ctx, desired.Records)
	if err != nil {
		return err
	}

	fmt.Print(reconcile.FormatPlan(plan, colorOutput()))
	if !apply || plan.Empty() {
		return nil
	}

	res, err := r.Apply(ctx, plan)
	if err != nil {
		fmt.Printf("\nApplied before failure: %d deleted, %d created, %d updated.\n",
			res.Deleted, res.Created, res.Updated)
		return err
	}
	fmt.Printf("\nApplied: %d deleted, %d created, %d updated.\n",
		res.Deleted, res.Created, res.Updated)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	desired, err := loadDesired()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d records for zone %s, all valid.\n", desiredPath, len(desired.Records), desired.Zone)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	desired, err := loadDesired()
	if err != nil {
		return err
	}

	v := verify.New(resolver, queryTimeout, log.WithName("verify"))
	checks, err := v.Verify(cmd.Context(), desired.Records)
	if err != nil {
		return err
	}

	pending := 0
	for _, c := range checks {
		status := "ok"
		if !c.Converged {
			status = "pending"
			pending++
		}
		fmt.Printf("%-8s %s", status, c.Record)
		if !c.Converged && len(c.Answers) > 0 {
			fmt.Printf(" (resolver answered: %v)", c.Answers)
		}
		fmt.Println()
	}
	if pending > 0 {
		fmt.Printf("\n%d of %d records not yet propagated to %s.\n", pending, len(checks), v.Resolver)
	} else {
		fmt.Printf("\nAll %d records propagated to %s.\n", len(checks), v.Resolver)
	}
	return nil
}
