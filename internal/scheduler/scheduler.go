// File: internal/scheduler/scheduler.go
// Description: Orders tool invocations into dependency-respecting phases
// and drives each one through cache, sandbox, normalizer, store, and
// recorder. One coordinating goroutine manages phase progression; a
// bounded worker pool executes invocations within a phase.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/artifact"
	"github.com/rdSoftInc/deadbolt/internal/cache"
	"github.com/rdSoftInc/deadbolt/internal/config"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
	"github.com/rdSoftInc/deadbolt/internal/registry"
	"github.com/rdSoftInc/deadbolt/internal/sandbox"
)

// Executor abstracts the sandbox adapter so tests can fake tool runs.
type Executor interface {
	Execute(ctx context.Context, desc registry.ToolDescriptor, inputFile, scratchDir string) (*sandbox.Result, error)
}

// VersionResolver abstracts tool version probing.
type VersionResolver interface {
	Resolve(ctx context.Context, image string, versionArgs []string) string
	Snapshot() map[string]string
}

// ErrMandatoryFailure is returned when a hard-dependency tool fails and
// later phases cannot do without its artifact type.
var ErrMandatoryFailure = errors.New("mandatory tool failed")

// InternalError wraps fatal orchestration failures: run-state persistence
// or artifact-store I/O. These abort the run immediately because the
// auditability guarantee would otherwise be broken. Already-persisted
// state stays intact; the append-only model needs no rollback.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("orchestration error: %v", e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// Recorder is the slice of run-state persistence the scheduler needs.
// *runstate.Recorder satisfies it.
type Recorder interface {
	Dir() string
	Persist(rs *schemas.RunState) error
	RawDir(tool string) (string, error)
	WriteNormalized(tool string, findings []schemas.Finding) error
	WriteFindings(findings []schemas.Finding) error
}

// Scheduler runs one plan to completion. It owns invocation records
// while the run is live; afterwards they are read-only history.
type Scheduler struct {
	cfg        config.Interface
	logger     *zap.Logger
	catalog    *registry.Catalog
	store      *artifact.Store
	recorder   Recorder
	resume     *cache.Cache
	executor   Executor
	versions   VersionResolver
	normalizer *normalize.Normalizer
	limiter    *rate.Limiter

	// mu serializes every RunState mutation and the persist that
	// follows it, so snapshots on disk are always consistent. It also
	// guards fatal; setFatal must not be called with mu held.
	mu       sync.Mutex
	findings []schemas.Finding
	fatal    error
}

// New validates dependencies and constructs a scheduler.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	catalog *registry.Catalog,
	store *artifact.Store,
	recorder Recorder,
	resume *cache.Cache,
	executor Executor,
	versions VersionResolver,
	normalizer *normalize.Normalizer,
) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if catalog == nil {
		return nil, errors.New("catalog cannot be nil")
	}
	if store == nil {
		return nil, errors.New("artifact store cannot be nil")
	}
	if recorder == nil {
		return nil, errors.New("recorder cannot be nil")
	}
	if resume == nil {
		return nil, errors.New("resume cache cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if normalizer == nil {
		return nil, errors.New("normalizer cannot be nil")
	}

	var limiter *rate.Limiter
	if rl := cfg.Engine().RateLimit; rl > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl), 1)
	}

	return &Scheduler{
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
		catalog:    catalog,
		store:      store,
		recorder:   recorder,
		resume:     resume,
		executor:   executor,
		versions:   versions,
		normalizer: normalizer,
		limiter:    limiter,
	}, nil
}

// Run executes every phase of the catalog in declared order against the
// given run state. The state is mutated in place and persisted after
// every invocation transition; the same state value is also returned.
func (s *Scheduler) Run(ctx context.Context, rs *schemas.RunState) (*schemas.RunState, error) {
	for _, phase := range s.catalog.Phases {
		s.mu.Lock()
		rs.CurrentPhase = phase.Name
		s.mu.Unlock()
		if err := s.persist(rs); err != nil {
			return rs, err
		}

		s.logger.Info("Entering phase",
			zap.String("run_id", rs.RunID),
			zap.String("phase", phase.Name))

		if err := s.runPhase(ctx, rs, phase); err != nil {
			s.finish(rs, statusForErr(err))
			// Best effort: the failure itself is the headline.
			_ = s.persist(rs)
			return rs, err
		}

		s.mu.Lock()
		rs.PhaseHistory = append(rs.PhaseHistory, phase.Name)
		s.mu.Unlock()
	}

	status := schemas.RunCompleted
	for _, inv := range rs.Invocations {
		if inv.Status == schemas.StatusFailed {
			status = schemas.RunCompletedWithGaps
			break
		}
	}
	s.finish(rs, status)
	if err := s.persist(rs); err != nil {
		return rs, err
	}
	if err := s.recorder.WriteFindings(s.Findings()); err != nil {
		return rs, &InternalError{Err: err}
	}
	return rs, nil
}

// runPhase plans and executes a single phase. A phase is complete only
// when every dispatched invocation is terminal; only then may the next
// phase's eligibility computation observe the produced artifacts.
func (s *Scheduler) runPhase(ctx context.Context, rs *schemas.RunState, phase registry.PhaseDefinition) error {
	// Producer-before-consumer: tools that consume earlier-ranked
	// artifact types run in an earlier wave, so same-phase enrichment
	// sees its inputs.
	waves := make(map[int][]registry.ToolDescriptor)
	var ranks []int
	for _, tool := range phase.Tools {
		r := tool.Consumes.ConsumeRank()
		if _, seen := waves[r]; !seen {
			ranks = append(ranks, r)
		}
		waves[r] = append(waves[r], tool)
	}
	sort.Ints(ranks)

	for _, r := range ranks {
		if err := s.runWave(ctx, rs, phase.Name, waves[r]); err != nil {
			return err
		}
		// Orchestration failures (state persistence, artifact store)
		// surface at the wave boundary so in-flight workers finish and
		// every touched invocation is terminal before the run aborts.
		if err := s.fatalError(); err != nil {
			return err
		}
	}

	// Mandatory-failure check happens at the phase barrier: a failed
	// hard dependency means a later phase would starve.
	for _, tool := range phase.Tools {
		if !tool.Mandatory {
			continue
		}
		for _, inv := range rs.Invocations {
			if inv.Tool == tool.Name && inv.Status == schemas.StatusFailed {
				return fmt.Errorf("%w: %s (%s)", ErrMandatoryFailure, tool.Name, inv.FailureKind)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// plannedInvocation pairs a pending record with its descriptor and the
// merged input worklist it will consume.
type plannedInvocation struct {
	desc  registry.ToolDescriptor
	inv   *schemas.Invocation
	input []byte
}

func (s *Scheduler) runWave(ctx context.Context, rs *schemas.RunState, phaseName string, tools []registry.ToolDescriptor) error {
	planned, err := s.plan(ctx, rs, phaseName, tools)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		return nil
	}

	concurrency := s.cfg.Engine().Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for _, p := range planned {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.markTerminal(rs, p.inv, schemas.StatusCancelled, schemas.FailureCancelled, err)
				continue
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run-level cancellation while queued.
			s.markTerminal(rs, p.inv, schemas.StatusCancelled, schemas.FailureCancelled, err)
			continue
		}
		wg.Add(1)
		go func(p plannedInvocation) {
			defer wg.Done()
			defer sem.Release(1)
			s.executeOne(ctx, rs, p)
		}(p)
	}

	wg.Wait()
	return s.persist(rs)
}

// plan computes the eligible invocations of one wave: every tool whose
// consumed artifact type is present in the store, one invocation per
// distinct input combination. Records are created in lexicographic
// (tool name, input hash) order so logs and state files are
// deterministic regardless of later execution interleaving.
func (s *Scheduler) plan(ctx context.Context, rs *schemas.RunState, phaseName string, tools []registry.ToolDescriptor) ([]plannedInvocation, error) {
	var planned []plannedInvocation

	sorted := make([]registry.ToolDescriptor, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, tool := range sorted {
		merged, inputHashes, err := s.store.MergedByType(tool.Consumes)
		if err != nil {
			return nil, &InternalError{Err: err}
		}
		if len(inputHashes) == 0 || len(merged) == 0 {
			s.logger.Info("Tool skipped, no eligible inputs",
				zap.String("tool", tool.Name),
				zap.String("consumes", string(tool.Consumes)))
			continue
		}

		version := "unknown"
		if s.versions != nil && s.cfg.Sandbox().VersionProbe {
			version = s.versions.Resolve(ctx, tool.Image, tool.VersionArgs)
		}

		fp := cache.Fingerprint(tool.Name, version, inputHashes)

		s.mu.Lock()
		if prior, ok := rs.Invocations[fp]; ok && prior.Status.Terminal() && prior.Status != schemas.StatusFailed {
			// Resume safety: an invocation already succeeded (or was
			// served from cache) under this exact fingerprint. Its
			// findings still need to reach this run's aggregate.
			s.mu.Unlock()
			s.replayFindings(rs, tool, prior)
			continue
		}
		inv := &schemas.Invocation{
			Tool:        tool.Name,
			ToolVersion: version,
			Phase:       phaseName,
			InputHashes: append([]string(nil), inputHashes...),
			Fingerprint: fp,
			Status:      schemas.StatusPending,
		}
		sort.Strings(inv.InputHashes)
		rs.Invocations[fp] = inv
		s.mu.Unlock()

		planned = append(planned, plannedInvocation{desc: tool, inv: inv, input: merged})
	}

	if err := s.persist(rs); err != nil {
		return nil, err
	}
	return planned, nil
}

// executeOne drives a single invocation through cache, sandbox,
// normalizer, and store.
func (s *Scheduler) executeOne(ctx context.Context, rs *schemas.RunState, p plannedInvocation) {
	logger := s.logger.With(
		zap.String("tool", p.desc.Name),
		zap.String("fingerprint", short(p.inv.Fingerprint)))

	// 1. Resume cache. Hits reuse artifact references by identity;
	// no sandbox execution happens.
	if cached, ok := s.resume.Lookup(p.inv.Fingerprint); ok {
		logger.Info("Reusing cached result")
		s.mu.Lock()
		p.inv.Status = schemas.StatusSkippedCached
		p.inv.RawOutput = cached.Prior.RawOutput
		p.inv.OutputArtifacts = append([]string(nil), cached.Prior.OutputArtifacts...)
		p.inv.StartedAt = cached.Prior.StartedAt
		p.inv.FinishedAt = cached.Prior.FinishedAt
		s.mu.Unlock()
		if err := s.persist(rs); err != nil {
			logger.Error("Cannot persist run state", zap.Error(err))
			s.setFatal(err)
		}
		s.replayFindings(rs, p.desc, p.inv)
		return
	}

	s.mu.Lock()
	p.inv.Status = schemas.StatusRunning
	p.inv.StartedAt = time.Now().UTC()
	s.mu.Unlock()
	if err := s.persist(rs); err != nil {
		logger.Error("Cannot persist run state", zap.Error(err))
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, err)
		return
	}

	// 2. Materialize the input and execute in the sandbox. The scratch
	// dir is exclusive to this invocation.
	scratchDir, err := s.recorder.RawDir(p.desc.RawDir())
	if err != nil {
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, &InternalError{Err: err})
		return
	}
	inputFile, err := s.materializeInput(p, scratchDir)
	if err != nil {
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, err)
		return
	}

	res, execErr := s.executor.Execute(ctx, p.desc, inputFile, scratchDir)
	if res != nil {
		s.mu.Lock()
		p.inv.ExitCode = res.ExitCode
		if res.OutputPath != "" {
			if rel, rerr := filepath.Rel(s.recorder.Dir(), res.OutputPath); rerr == nil {
				p.inv.RawOutput = rel
			}
		}
		s.mu.Unlock()
	}

	if execErr != nil {
		status := schemas.StatusFailed
		kind := schemas.FailureResource
		var sbErr *sandbox.Error
		if errors.As(execErr, &sbErr) {
			kind = sbErr.Kind
		}
		if kind == schemas.FailureCancelled {
			status = schemas.StatusCancelled
		}
		logger.Warn("Invocation failed", zap.String("kind", string(kind)), zap.Error(execErr))
		s.markTerminal(rs, p.inv, status, kind, execErr)
		return
	}

	// 3. Preserve raw evidence in the content-addressed store.
	rawArt, err := s.store.Put(schemas.ArtifactRaw, p.inv.Fingerprint, res.Output)
	if err != nil {
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, &InternalError{Err: err})
		return
	}

	// 4. Normalize. A parse failure is per-invocation and non-fatal to
	// the run; the raw evidence above survives either way.
	findings, normErr := s.normalizer.Normalize(p.desc.Name, res.Output, normalize.Meta{
		RunID:          rs.RunID,
		SourceArtifact: rawArt.Hash,
		ObservedAt:     p.inv.StartedAt,
	})
	if normErr != nil {
		logger.Warn("Normalization failed", zap.Error(normErr))
		s.mu.Lock()
		p.inv.OutputArtifacts = []string{rawArt.Hash}
		s.mu.Unlock()
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureNormalization, normErr)
		return
	}

	// 5. Materialize the produced worklist artifact, even when empty,
	// so downstream eligibility is explicit rather than inferred.
	items := worklistItems(p.desc.Produces, findings)
	wlArt, err := s.store.PutLines(p.desc.Produces, p.inv.Fingerprint, []byte(strings.Join(items, "\n")))
	if err != nil {
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, &InternalError{Err: err})
		return
	}

	if err := s.recorder.WriteNormalized(p.desc.RawDir(), findings); err != nil {
		s.markTerminal(rs, p.inv, schemas.StatusFailed, schemas.FailureResource, &InternalError{Err: err})
		return
	}

	s.mu.Lock()
	p.inv.OutputArtifacts = []string{rawArt.Hash, wlArt.Hash}
	p.inv.Status = schemas.StatusSucceeded
	p.inv.FinishedAt = time.Now().UTC()
	if p.desc.Produces == schemas.ArtifactFindings {
		s.findings = append(s.findings, findings...)
	}
	s.mu.Unlock()

	logger.Info("Invocation succeeded",
		zap.Int("findings", len(findings)),
		zap.Duration("duration", res.Duration))
	if err := s.persist(rs); err != nil {
		logger.Error("Cannot persist run state", zap.Error(err))
		s.setFatal(err)
	}
}

// materializeInput writes the merged input worklist into the scratch
// dir, or resolves a file-reference input (app packages) to the real
// file for direct mounting.
func (s *Scheduler) materializeInput(p plannedInvocation, scratchDir string) (string, error) {
	if p.desc.InputIsFileRef {
		ref := strings.TrimSpace(string(p.input))
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("input file reference %q: %w", ref, err)
		}
		return ref, nil
	}
	inputFile := filepath.Join(scratchDir, "input.txt")
	if err := os.WriteFile(inputFile, append(p.input, '\n'), 0o644); err != nil {
		return "", err
	}
	return inputFile, nil
}

// replayFindings re-normalizes the cached raw artifact of a reused
// invocation so this run's aggregate finding set is identical to the
// one the original execution produced.
func (s *Scheduler) replayFindings(rs *schemas.RunState, desc registry.ToolDescriptor, inv *schemas.Invocation) {
	var rawHash string
	for _, h := range inv.OutputArtifacts {
		if art, err := s.store.Get(h); err == nil && art.Type == schemas.ArtifactRaw {
			rawHash = h
			break
		}
	}
	if rawHash == "" {
		return
	}
	raw, err := s.store.Read(rawHash)
	if err != nil {
		return
	}
	findings, err := s.normalizer.Normalize(desc.Name, raw, normalize.Meta{
		RunID:          rs.RunID,
		SourceArtifact: rawHash,
		ObservedAt:     inv.StartedAt,
	})
	if err != nil {
		return
	}
	if err := s.recorder.WriteNormalized(desc.RawDir(), findings); err != nil {
		s.logger.Warn("Cannot write normalized snapshot", zap.Error(err))
	}
	if desc.Produces == schemas.ArtifactFindings {
		s.mu.Lock()
		s.findings = append(s.findings, findings...)
		s.mu.Unlock()
	}
}

// markTerminal transitions an invocation to a terminal failure state and
// persists the run state.
func (s *Scheduler) markTerminal(rs *schemas.RunState, inv *schemas.Invocation, status schemas.InvocationStatus, kind schemas.FailureKind, err error) {
	s.mu.Lock()
	inv.Status = status
	inv.FailureKind = kind
	if err != nil {
		inv.Error = err.Error()
		rs.Errors[inv.Tool] = err.Error()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}
	inv.FinishedAt = time.Now().UTC()
	s.mu.Unlock()
	var internal *InternalError
	if errors.As(err, &internal) {
		s.setFatal(err)
	}
	if perr := s.persist(rs); perr != nil {
		s.logger.Error("Cannot persist run state", zap.Error(perr))
		s.setFatal(perr)
	}
}

// setFatal records the first orchestration failure. Fatal errors stop
// the run at the next wave boundary; every invocation already touched
// has been moved to a terminal state by then.
func (s *Scheduler) setFatal(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}

func (s *Scheduler) fatalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Findings returns the aggregated findings in deterministic order.
func (s *Scheduler) Findings() []schemas.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Finding, len(s.findings))
	copy(out, s.findings)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) persist(rs *schemas.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recorder.Persist(rs); err != nil {
		return &InternalError{Err: err}
	}
	return nil
}

func (s *Scheduler) finish(rs *schemas.RunState, status schemas.RunStatus) {
	s.mu.Lock()
	rs.Status = status
	rs.FinishedAt = time.Now().UTC()
	s.mu.Unlock()
}

func statusForErr(err error) schemas.RunStatus {
	switch {
	case errors.Is(err, context.Canceled):
		return schemas.RunCancelled
	default:
		return schemas.RunFailed
	}
}

// worklistItems extracts the artifact items findings contribute to the
// produced worklist. Asset- and path-producing tools contribute their
// matching records; finding-producing tools contribute nothing further
// downstream.
func worklistItems(produces schemas.ArtifactType, findings []schemas.Finding) []string {
	var want schemas.FindingKind
	switch produces {
	case schemas.ArtifactAssets:
		want = schemas.KindAsset
	case schemas.ArtifactPaths:
		want = schemas.KindPath
	default:
		return nil
	}
	seen := make(map[string]struct{})
	var items []string
	for _, f := range findings {
		if f.Kind != want {
			continue
		}
		if _, dup := seen[f.Asset]; dup {
			continue
		}
		seen[f.Asset] = struct{}{}
		items = append(items, f.Asset)
	}
	sort.Strings(items)
	return items
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
