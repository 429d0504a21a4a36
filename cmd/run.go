// -- cmd/run.go --
// Composition root for scan runs. Each domain subcommand resolves its
// targets and scope, then hands off to executeRun, which wires the gate,
// store, recorder, cache, sandbox, normalizer, and scheduler together.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/artifact"
	"github.com/rdSoftInc/deadbolt/internal/cache"
	"github.com/rdSoftInc/deadbolt/internal/config"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
	"github.com/rdSoftInc/deadbolt/internal/normalize/parsers"
	"github.com/rdSoftInc/deadbolt/internal/observability"
	"github.com/rdSoftInc/deadbolt/internal/registry"
	"github.com/rdSoftInc/deadbolt/internal/report"
	"github.com/rdSoftInc/deadbolt/internal/runstate"
	"github.com/rdSoftInc/deadbolt/internal/sandbox"
	"github.com/rdSoftInc/deadbolt/internal/scheduler"
	"github.com/rdSoftInc/deadbolt/internal/scope"
)

// runOptions carries the per-run settings a subcommand resolved from its
// arguments and flags.
type runOptions struct {
	domain      string
	primary     string
	targetsFile string
	scopeFile   string
	resumeFrom  string
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("resume-from", "", "resume an interrupted run from its run directory")
	cmd.Flags().String("output", "", "output base directory (defaults to the configured output.base_dir)")
	cmd.Flags().Int("concurrency", 0, "max parallel tool invocations per phase")
	cmd.Flags().Float64("rate-limit", 0, "max invocation dispatches per second (0 disables)")
}

// bindRunFlags applies flag overrides onto the loaded config with the
// usual precedence: flags beat config file beats defaults.
func bindRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if err := viper.BindPFlag("engine.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
		return err
	}
	if err := viper.BindPFlag("engine.rate_limit", cmd.Flags().Lookup("rate-limit")); err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.SetEngineConcurrency(n)
	}
	if r, _ := cmd.Flags().GetFloat64("rate-limit"); r > 0 {
		cfg.SetEngineRateLimit(r)
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.OutputC.BaseDir = out
	}
	return nil
}

func newWebCmd() *cobra.Command {
	webCmd := &cobra.Command{
		Use:   "web <domain>",
		Short: "Run the web reconnaissance pipeline against a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			if err := bindRunFlags(cmd, cfg); err != nil {
				return err
			}
			opts := runOptions{domain: "web", primary: strings.ToLower(args[0])}
			opts.targetsFile, _ = cmd.Flags().GetString("targets")
			opts.scopeFile, _ = cmd.Flags().GetString("scope")
			opts.resumeFrom, _ = cmd.Flags().GetString("resume-from")
			return executeRun(cmd.Context(), cfg, opts)
		},
	}
	addRunFlags(webCmd)
	webCmd.Flags().String("targets", "", "file with additional in-scope hosts, one per line")
	webCmd.Flags().String("scope", "", "scope YAML file with allow/deny rules")
	return webCmd
}

func newAndroidCmd() *cobra.Command {
	androidCmd := &cobra.Command{
		Use:   "android <app.apk>",
		Short: "Run the Android static-analysis pipeline against an APK",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			if err := bindRunFlags(cmd, cfg); err != nil {
				return err
			}
			opts := runOptions{domain: "android", primary: args[0]}
			opts.scopeFile, _ = cmd.Flags().GetString("scope")
			opts.resumeFrom, _ = cmd.Flags().GetString("resume-from")
			return executeRun(cmd.Context(), cfg, opts)
		},
	}
	addRunFlags(androidCmd)
	androidCmd.Flags().String("scope", "", "scope YAML file with allow/deny rules")
	return androidCmd
}

func newIOSCmd() *cobra.Command {
	iosCmd := &cobra.Command{
		Use:   "ios <app.ipa>",
		Short: "Run the iOS static-analysis pipeline against an IPA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			if err := bindRunFlags(cmd, cfg); err != nil {
				return err
			}
			opts := runOptions{domain: "ios", primary: args[0]}
			opts.scopeFile, _ = cmd.Flags().GetString("scope")
			opts.resumeFrom, _ = cmd.Flags().GetString("resume-from")
			return executeRun(cmd.Context(), cfg, opts)
		},
	}
	addRunFlags(iosCmd)
	iosCmd.Flags().String("scope", "", "scope YAML file with allow/deny rules")
	return iosCmd
}

// executeRun wires the full pipeline and drives it to completion. Nothing
// executes until every target has cleared the scope gate.
func executeRun(ctx context.Context, cfg *config.Config, opts runOptions) error {
	logger := observability.GetLogger()

	cfg.SetRunConfig(config.RunConfig{
		Domain:      opts.domain,
		TargetsFile: opts.targetsFile,
		ScopeFile:   opts.scopeFile,
		ResumeFrom:  opts.resumeFrom,
	})

	// 1. Resolve targets and enforce scope before anything touches disk
	// or a container.
	rawTargets, err := resolveTargets(opts)
	if err != nil {
		return err
	}
	ruleset, err := resolveRuleset(opts, rawTargets)
	if err != nil {
		return err
	}
	targets, err := scope.NewGate(ruleset).Validate(rawTargets)
	if err != nil {
		return err
	}
	logger.Info("Scope gate passed",
		zap.String("domain", opts.domain),
		zap.Int("targets", len(targets)))

	// 2. Run directory and persistence layers.
	baseDir, err := cfg.ResolveBaseDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	runDir, resumed, err := runstate.ResolveRunDir(baseDir, opts.resumeFrom)
	if err != nil {
		return err
	}
	recorder, err := runstate.Open(runDir, logger)
	if err != nil {
		return err
	}
	store, err := artifact.Open(runDir, logger)
	if err != nil {
		return err
	}

	// 3. Prior state. Resume reloads the interrupted run; its succeeded
	// invocations are served from cache instead of re-executing.
	var prior *schemas.RunState
	if resumed {
		prior, err = recorder.Load()
		if err != nil {
			return fmt.Errorf("cannot load run state for resume: %w", err)
		}
		if prior.Domain != opts.domain {
			return fmt.Errorf("run directory belongs to domain %q, not %q", prior.Domain, opts.domain)
		}
	}

	rs := prior
	if rs == nil {
		rs = schemas.NewRunState(uuid.New().String(), opts.domain, time.Now().UTC())
	} else {
		rs.Status = schemas.RunRunning
		rs.FinishedAt = time.Time{}
	}
	logger.Info("Run prepared",
		zap.String("run_id", rs.RunID),
		zap.String("run_dir", runDir),
		zap.Bool("resumed", resumed))

	// 4. Seed the targets worklist. Mobile domains store the app package
	// path as a file reference; web stores validated hosts.
	seed := make([]string, 0, len(targets))
	for _, t := range targets {
		if opts.domain == "web" {
			seed = append(seed, t.Host)
		} else {
			seed = append(seed, t.Identifier)
		}
	}
	if _, err := store.PutLines(schemas.ArtifactTargets, "seed", []byte(strings.Join(seed, "\n"))); err != nil {
		return err
	}

	// 5. Execution components.
	catalog, err := registry.ForDomain(opts.domain)
	if err != nil {
		return err
	}
	normalizer, err := normalize.New(logger, parsers.ForDomain(opts.domain)...)
	if err != nil {
		return err
	}
	adapter := sandbox.New(cfg.SandboxC, cfg.EngineC.InvocationTimeout, logger)
	versions := sandbox.NewVersionCache(adapter, logger)
	resume := cache.New(prior, store, logger)

	sched, err := scheduler.New(cfg, logger, catalog, store, recorder, resume, adapter, versions, normalizer)
	if err != nil {
		return err
	}

	// 6. Drive the run. The report and metadata are written even when the
	// run ends in failure or cancellation, for the audit trail.
	rs, runErr := sched.Run(ctx, rs)
	findings := sched.Findings()

	if err := recorder.WriteFindings(findings); err != nil {
		logger.Error("Failed to write findings", zap.Error(err))
	}
	meta := runstate.Meta{
		RunID:        rs.RunID,
		Domain:       rs.Domain,
		StartedAt:    rs.StartedAt,
		FinishedAt:   rs.FinishedAt,
		TargetsFile:  opts.targetsFile,
		PhaseHistory: rs.PhaseHistory,
		Version:      Version,
		ToolVersions: versions.Snapshot(),
		Errors:       rs.Errors,
	}
	if err := recorder.WriteMeta(meta); err != nil {
		logger.Error("Failed to write run metadata", zap.Error(err))
	}
	if err := report.Write(runDir, report.Build(rs, findings), logger); err != nil {
		logger.Error("Failed to write report", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Run finished",
		zap.String("run_id", rs.RunID),
		zap.String("status", string(rs.Status)),
		zap.Int("findings", len(findings)))
	return nil
}

// resolveTargets builds the raw target list for the run. Web runs take
// the primary domain plus an optional targets file; mobile runs take the
// app package path, which must exist.
func resolveTargets(opts runOptions) ([]string, error) {
	if opts.domain != "web" {
		abs, err := filepath.Abs(opts.primary)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("app package not found: %s", opts.primary)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("app package is a directory: %s", opts.primary)
		}
		return []string{abs}, nil
	}

	targets := []string{opts.primary}
	if opts.targetsFile == "" {
		return targets, nil
	}
	f, err := os.Open(opts.targetsFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read targets file: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read targets file: %w", err)
	}
	return targets, nil
}

// resolveRuleset loads the scope file, or synthesizes a ruleset covering
// exactly the requested targets when none was given. Web runs default to
// the primary domain and its subdomains; mobile runs to the package path.
func resolveRuleset(opts runOptions, rawTargets []string) (*scope.Ruleset, error) {
	if opts.scopeFile != "" {
		return scope.LoadRuleset(opts.scopeFile)
	}
	if opts.domain == "web" {
		return &scope.Ruleset{
			Allow: []scope.Rule{{Kind: scope.KindSuffix, Pattern: opts.primary}},
		}, nil
	}
	rules := make([]scope.Rule, 0, len(rawTargets))
	for _, t := range rawTargets {
		rules = append(rules, scope.Rule{Kind: scope.KindExact, Pattern: t})
	}
	return &scope.Ruleset{Allow: rules}, nil
}
