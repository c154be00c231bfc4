// Package pipeline drives a search request through its stages: cache lookup,
// intent extraction, query planning, concurrent execution and fusion, with a
// plan-cache write-back after misses. Stage implementations live in the
// subpackages; the driver owns sequencing, budgets, recovery and
// observability.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/plancache"
	"toolatlas.dev/search/runtime/telemetry"
	"toolatlas.dev/search/schema"
)

// Node names as they appear in paths, timings and error reports.
const (
	NodeCacheLookup = "cache_lookup"
	NodeIntent      = "intent_extraction"
	NodePlan        = "query_planning"
	NodeExecute     = "query_execution"
	NodeFusion      = "fusion"
	NodeCacheStore  = "cache_store"
)

const (
	// DefaultMaxQueryLen bounds accepted query text.
	DefaultMaxQueryLen = 1024
	// DefaultMaxResults caps the fused candidate list.
	DefaultMaxResults = 100
)

// Extractor turns raw query text into a validated intent.
type Extractor interface {
	Extract(ctx context.Context, queryText string) (*query.IntentState, error)
}

// Planner turns an intent into an executable plan.
type Planner interface {
	Plan(ctx context.Context, intent *query.IntentState) (*query.QueryPlan, error)
}

// Executor runs every source in the plan and returns per-source results.
// Source failures come back as recovered NodeErrors, not an error return.
type Executor interface {
	Execute(ctx context.Context, st *State) ([]SourceResult, []NodeError)
}

// Fuser merges per-source candidate lists into one ranking.
type Fuser interface {
	Fuse(method query.FusionMethod, sources []SourceResult, max int) ([]query.Candidate, error)
}

// Options configures a Driver. Schema, Extractor, Planner, Executor and
// Fuser are required; Cache is optional (no cache means every request runs
// the full path).
type Options struct {
	Schema    *schema.Schema
	Cache     plancache.Cache
	Extractor Extractor
	Planner   Planner
	Executor  Executor
	Fuser     Fuser
	Logger    telemetry.Logger

	// Budget bounds the whole request; zero means no budget.
	Budget time.Duration
	// StoreConfidence is the minimum plan confidence for a cache
	// write-back; zero means the default.
	StoreConfidence float64
	// MaxQueryLen and MaxResults default when zero.
	MaxQueryLen int
	MaxResults  int
}

// SearchOptions tunes a single request.
type SearchOptions struct {
	// EnableCheckpoints retains a state snapshot after each node.
	EnableCheckpoints bool
	// SkipCache forces the full pipeline path.
	SkipCache bool
}

// Driver sequences the pipeline.
type Driver struct {
	schema      *schema.Schema
	cache       plancache.Cache
	extractor   Extractor
	planner     Planner
	executor    Executor
	fuser       Fuser
	log         telemetry.Logger
	budget      time.Duration
	storeConf   float64
	maxQueryLen int
	maxResults  int
}

// New validates the options and builds a Driver.
func New(opts Options) (*Driver, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Fuser == nil {
		return nil, fmt.Errorf("fuser is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	if opts.StoreConfidence <= 0 {
		opts.StoreConfidence = plancache.DefaultThresholds().Confidence
	}
	if opts.MaxQueryLen <= 0 {
		opts.MaxQueryLen = DefaultMaxQueryLen
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Driver{
		schema:      opts.Schema,
		cache:       opts.Cache,
		extractor:   opts.Extractor,
		planner:     opts.Planner,
		executor:    opts.Executor,
		fuser:       opts.Fuser,
		log:         opts.Logger,
		budget:      opts.Budget,
		storeConf:   opts.StoreConfidence,
		maxQueryLen: opts.MaxQueryLen,
		maxResults:  opts.MaxResults,
	}, nil
}

// Search runs one request end to end. On budget exhaustion or cancellation
// it returns whatever candidates were produced alongside ErrDeadline or
// ErrCancelled.
func (d *Driver) Search(ctx context.Context, queryText string, opts SearchOptions) (*Result, error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadInput)
	}
	if len(trimmed) > d.maxQueryLen {
		return nil, fmt.Errorf("%w: query exceeds %d characters", ErrBadInput, d.maxQueryLen)
	}

	if d.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.budget)
		defer cancel()
	}
	cid := telemetry.CorrelationID(ctx)
	if cid == "" {
		cid = uuid.NewString()
		ctx = telemetry.WithCorrelationID(ctx, cid)
	}

	st := &State{
		Schema:        d.schema,
		Query:         trimmed,
		CorrelationID: cid,
		Stats:         Stats{StartedAt: time.Now().UTC(), CacheType: plancache.HitMiss},
	}
	defer func() { st.Stats.Elapsed = time.Since(st.Stats.StartedAt) }()

	var cached plancache.Result
	if d.cache != nil && !opts.SkipCache {
		cached = d.lookupCache(ctx, st, opts)
	} else {
		cached = plancache.Result{Type: plancache.HitMiss}
	}

	if cached.Type == plancache.HitMiss {
		if err := d.extractAndPlan(ctx, st, opts); err != nil {
			return d.finish(st), err
		}
	}

	if err := d.execute(ctx, st, opts); err != nil {
		// A budget cutoff mid-execution still fuses whatever the sources
		// returned before it; the caller sees partial candidates next to
		// ErrDeadline.
		if errors.Is(err, ErrDeadline) && len(st.Sources) > 0 {
			_ = d.fuse(ctx, st, opts)
		}
		return d.finish(st), err
	}
	if err := d.fuse(ctx, st, opts); err != nil {
		return d.finish(st), err
	}

	if d.cache != nil && !opts.SkipCache && cached.Type == plancache.HitMiss {
		d.storeCache(ctx, st, cached.QueryEmbedding)
	}
	return d.finish(st), nil
}

// lookupCache probes the plan cache and, on a hit, revalidates the stored
// plan against the current schema before adopting it. Lookup failures and
// invalid cached plans degrade to a miss.
func (d *Driver) lookupCache(ctx context.Context, st *State, opts SearchOptions) plancache.Result {
	start := time.Now()
	defer func() {
		st.recordNode(NodeCacheLookup, start)
		if opts.EnableCheckpoints {
			st.checkpoint(NodeCacheLookup)
		}
	}()

	res, err := d.cache.Lookup(ctx, st.Query)
	if err != nil {
		st.Errors = append(st.Errors, NewNodeError(NodeCacheLookup, err).WithRecovery("treat as miss"))
		d.log.Warn(ctx, "plan cache lookup failed", "err", err)
		return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: res.QueryEmbedding}
	}
	if res.Type == plancache.HitMiss {
		return res
	}
	if issues := d.schema.ValidateQueryPlan(&res.Entry.Plan); len(issues) > 0 {
		st.Errors = append(st.Errors, NewNodeError(NodeCacheLookup,
			fmt.Errorf("cached plan invalid against schema %s: %s", d.schema.Version, issues[0].Message)).
			WithRecovery("treat as miss"))
		return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: res.QueryEmbedding}
	}
	intent := res.Entry.Intent
	plan := res.Entry.Plan
	st.Intent = &intent
	st.Plan = &plan
	st.Stats.CacheType = res.Type
	st.Stats.CacheSimilarity = res.Similarity
	d.log.Info(ctx, "plan cache hit", "type", string(res.Type), "similarity", res.Similarity)
	return res
}

// extractAndPlan runs the intent and planning nodes.
func (d *Driver) extractAndPlan(ctx context.Context, st *State, opts SearchOptions) error {
	start := time.Now()
	intent, err := d.extractor.Extract(ctx, st.Query)
	st.recordNode(NodeIntent, start)
	if err != nil {
		if cerr := classifyContextErr(ctx, err); cerr != nil {
			st.Errors = append(st.Errors, NewNodeError(NodeIntent, err))
			return cerr
		}
		st.Errors = append(st.Errors, NewNodeError(NodeIntent, err))
		return fmt.Errorf("%w: %v", ErrIntent, err)
	}
	st.Intent = intent
	if opts.EnableCheckpoints {
		st.checkpoint(NodeIntent)
	}

	start = time.Now()
	plan, err := d.planner.Plan(ctx, intent)
	st.recordNode(NodePlan, start)
	if err != nil {
		if cerr := classifyContextErr(ctx, err); cerr != nil {
			st.Errors = append(st.Errors, NewNodeError(NodePlan, err))
			return cerr
		}
		st.Errors = append(st.Errors, NewNodeError(NodePlan, err))
		return fmt.Errorf("%w: %v", ErrPlan, err)
	}
	st.Plan = plan
	if opts.EnableCheckpoints {
		st.checkpoint(NodePlan)
	}
	return nil
}

// execute fans out to every plan source. Individual source failures are
// recovered; the node fails only when the context terminates.
func (d *Driver) execute(ctx context.Context, st *State, opts SearchOptions) error {
	start := time.Now()
	sources, nodeErrs := d.executor.Execute(ctx, st)
	st.recordNode(NodeExecute, start)
	st.Sources = sources
	st.Errors = append(st.Errors, nodeErrs...)
	if opts.EnableCheckpoints {
		st.checkpoint(NodeExecute)
	}
	if cerr := classifyContextErr(ctx, ctx.Err()); cerr != nil {
		return cerr
	}
	return nil
}

// fuse merges per-source results. When the plan had sources but every one
// failed, the request surfaces ErrFusion with the per-source errors intact.
func (d *Driver) fuse(ctx context.Context, st *State, opts SearchOptions) error {
	start := time.Now()
	defer func() {
		st.recordNode(NodeFusion, start)
		if opts.EnableCheckpoints {
			st.checkpoint(NodeFusion)
		}
	}()

	if len(st.Sources) == 0 {
		if st.Plan != nil && st.Plan.SourceCount() > 0 {
			err := fmt.Errorf("%w: all %d sources failed", ErrFusion, st.Plan.SourceCount())
			st.Errors = append(st.Errors, NewNodeError(NodeFusion, err))
			return err
		}
		st.Candidates = nil
		return nil
	}
	method := query.FusionNone
	if st.Plan != nil {
		method = st.Plan.Fusion
	}
	merged, err := d.fuser.Fuse(method, st.Sources, d.maxResults)
	if err != nil {
		st.Errors = append(st.Errors, NewNodeError(NodeFusion, err))
		return fmt.Errorf("%w: %v", ErrFusion, err)
	}
	st.Candidates = merged
	return nil
}

// storeCache writes the computed plan back after a miss. Low-confidence
// plans are not cached; write failures are recovered.
func (d *Driver) storeCache(ctx context.Context, st *State, queryEmbedding []float32) {
	if st.Plan == nil || st.Intent == nil || st.Plan.Confidence < d.storeConf {
		return
	}
	start := time.Now()
	defer st.recordNode(NodeCacheStore, start)

	err := d.cache.Store(ctx, plancache.Entry{
		QueryHash:      plancache.HashQuery(st.Query),
		OriginalQuery:  st.Query,
		QueryEmbedding: queryEmbedding,
		Intent:         *st.Intent,
		Plan:           *st.Plan,
		SchemaVersion:  d.schema.Version,
		Confidence:     st.Plan.Confidence,
	})
	if err != nil {
		st.Errors = append(st.Errors, NewNodeError(NodeCacheStore, err).WithRecovery("skip write-back"))
		d.log.Warn(ctx, "plan cache store failed", "err", err)
	}
}

// finish assembles the Result from the terminal state.
func (d *Driver) finish(st *State) *Result {
	st.Stats.Elapsed = time.Since(st.Stats.StartedAt)
	return &Result{
		Candidates:  st.Candidates,
		Reasoning:   d.reasoning(st),
		Stats:       st.Stats,
		Errors:      st.Errors,
		Checkpoints: st.Checkpoints,
	}
}

// reasoning renders a short human-readable account of the request.
func (d *Driver) reasoning(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s", strings.Join(st.Stats.Path, " -> "))
	if st.Stats.CacheType != plancache.HitMiss {
		fmt.Fprintf(&b, "; cache %s hit (similarity %.2f)", st.Stats.CacheType, st.Stats.CacheSimilarity)
	}
	if st.Plan != nil && st.Plan.Explanation != "" {
		fmt.Fprintf(&b, "; plan: %s", st.Plan.Explanation)
	}
	recovered := 0
	for _, e := range st.Errors {
		if e.Recovered {
			recovered++
		}
	}
	if recovered > 0 {
		fmt.Fprintf(&b, "; %d degradation(s) recovered", recovered)
	}
	return b.String()
}
