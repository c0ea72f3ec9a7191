// Package engine implements the rule-evaluation engine: a fixed-interval
// tick loop that samples the registry, evaluates every loaded rule's
// threshold expression, advances per-rule alert state machines and pushes
// firing/resolved notifications to the notifier.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-systems/vigil/internal/alert"
	"github.com/vigil-systems/vigil/internal/registry"
	"github.com/vigil-systems/vigil/internal/rules"
	"github.com/vigil-systems/vigil/pkg/types"
)

// ErrEvaluationTimeout means one rule's evaluation exceeded the configured
// bound. The rule's state is left unchanged for the tick; other rules proceed.
var ErrEvaluationTimeout = errors.New("rule evaluation timed out")

// Defaults applied when Options fields are zero.
const (
	DefaultInterval    = 15 * time.Second
	DefaultEvalTimeout = 5 * time.Second
)

// Options configures the engine's evaluation cadence.
type Options struct {
	Interval    time.Duration // tick interval shared by all rules
	EvalTimeout time.Duration // per-rule evaluation bound within a tick
}

// ruleState is the mutable evaluation state of one loaded rule. It is
// touched only by the engine's tick, never by application code.
type ruleState struct {
	rule         *rules.Rule
	state        types.AlertState
	becameTrueAt time.Time
	lastEval     time.Time
	lastValue    float64
}

// Engine evaluates loaded rules against registry snapshots on a fixed timer.
type Engine struct {
	registry *registry.Registry
	notify   alert.Func
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	set    *rules.RuleSet
	states map[string]*ruleState
	hist   *history

	ticks        *registry.Counter
	evalFailures *registry.Counter
	notifsSent   *registry.Counter
	tickSeconds  *registry.Histogram

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine bound to a registry and a notification callback.
// The engine records its own operational metrics through the same registry.
func New(reg *registry.Registry, notify alert.Func, logger *slog.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}

	e := &Engine{
		registry: reg,
		notify:   notify,
		logger:   logger,
		opts:     opts,
		states:   make(map[string]*ruleState),
		hist:     newHistory(2),
	}

	var err error
	if e.ticks, err = dogfoodCounter(reg, "vigil_evaluation_ticks_total"); err != nil {
		return nil, err
	}
	if e.evalFailures, err = dogfoodCounter(reg, "vigil_rule_evaluation_failures_total"); err != nil {
		return nil, err
	}
	if e.notifsSent, err = dogfoodCounter(reg, "vigil_notifications_sent_total"); err != nil {
		return nil, err
	}
	hf, err := reg.RegisterHistogram("vigil_tick_duration_seconds",
		[]float64{.001, .005, .01, .05, .1, .5, 1, 5})
	if err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}
	if e.tickSeconds, err = hf.Histogram(); err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}
	return e, nil
}

func dogfoodCounter(reg *registry.Registry, name string) (*registry.Counter, error) {
	f, err := reg.Register(name, registry.KindCounter)
	if err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}
	c, err := f.Counter()
	if err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}
	return c, nil
}

// Load atomically replaces the active rule set. Rules whose name and
// expression both survive the reload keep their alert state; renamed or
// rewritten rules start over at Inactive. Rate history is resized to the new
// largest window and selectors no longer referenced are dropped.
func (e *Engine) Load(set *rules.RuleSet) error {
	if set == nil {
		return fmt.Errorf("%w: nil rule set", rules.ErrInvalidRuleSet)
	}
	if err := e.validateAgainstRegistry(set); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	states := make(map[string]*ruleState, len(set.Rules))
	for _, r := range set.Rules {
		if prev, ok := e.states[r.Name]; ok && prev.rule.Expr.String() == r.Expr.String() {
			prev.rule = r
			states[r.Name] = prev
			continue
		}
		states[r.Name] = &ruleState{rule: r, state: types.StateInactive}
	}

	live := make(map[string]bool)
	for key := range set.RateSelectors() {
		live[key] = true
	}
	e.hist.drop(live)
	e.hist.resize(historyCapacity(set.MaxWindow(), e.opts.Interval))

	e.set = set
	e.states = states
	e.logger.Info("rule set loaded", "rules", len(set.Rules), "maxWindow", set.MaxWindow())
	return nil
}

// validateAgainstRegistry rejects rules whose target family is already
// registered with an incompatible kind. Families not yet registered are
// checked again at evaluation time.
func (e *Engine) validateAgainstRegistry(set *rules.RuleSet) error {
	for _, r := range set.Rules {
		f, ok := e.registry.Family(r.Expr.Selector.Metric)
		if !ok {
			continue
		}
		switch r.Expr.Fn {
		case rules.FuncRate:
			if f.Kind() != registry.KindCounter {
				return fmt.Errorf("%w: rule %q: %w: rate() target %q is a %s",
					rules.ErrInvalidRuleSet, r.Name, rules.ErrInvalidExpression, f.Name(), f.Kind())
			}
		case rules.FuncValue:
			if f.Kind() == registry.KindHistogram {
				return fmt.Errorf("%w: rule %q: %w: value() target %q is a histogram",
					rules.ErrInvalidRuleSet, r.Name, rules.ErrInvalidExpression, f.Name())
			}
		case rules.FuncQuantile:
			if f.Kind() != registry.KindHistogram {
				return fmt.Errorf("%w: rule %q: %w: quantile() target %q is a %s",
					rules.ErrInvalidRuleSet, r.Name, rules.ErrInvalidExpression, f.Name(), f.Kind())
			}
		}
	}
	return nil
}

// historyCapacity sizes the rolling buffer to cover the largest window at
// the tick interval, with one extra slot so the sample just outside the
// window is still available.
func historyCapacity(maxWindow, interval time.Duration) int {
	if maxWindow <= 0 {
		return 2
	}
	return int(math.Ceil(float64(maxWindow)/float64(interval))) + 1
}

// Start begins the evaluation loop. The first tick runs immediately.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logger.Info("engine started", "interval", e.opts.Interval)

		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()

		e.Tick(ctx, time.Now())

		for {
			select {
			case <-ctx.Done():
				e.logger.Info("engine stopping")
				return
			case t := <-ticker.C:
				e.Tick(ctx, t)
			}
		}
	}()
}

// Stop shuts the evaluation loop down, waiting for an in-flight tick.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out")
	}
}

// Tick runs one full evaluation cycle at the given time: snapshot, history
// update, concurrent per-rule evaluation, state transitions, notifications.
// The loop calls Tick synchronously, so ticks never overlap.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	started := time.Now()
	defer func() {
		e.tickSeconds.Observe(time.Since(started).Seconds())
		e.ticks.Inc()
	}()

	idx := indexSnapshot(e.registry.Snapshot())

	e.mu.Lock()
	set := e.set
	if set == nil || len(set.Rules) == 0 {
		e.mu.Unlock()
		return
	}
	for key, sel := range set.RateSelectors() {
		e.observeRateSelector(idx, key, sel, now)
	}
	hist := e.hist
	e.mu.Unlock()

	// Evaluate every rule concurrently; rules are read-only against the
	// snapshot and independent of each other. All complete, or are abandoned
	// on timeout with a logged failure, before transitions are applied.
	results := make([]evalResult, len(set.Rules))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range set.Rules {
		i, r := i, r
		g.Go(func() error {
			results[i] = e.evalWithTimeout(gctx, r, idx, hist, now)
			return nil
		})
	}
	_ = g.Wait()

	var pending []types.Notification

	e.mu.Lock()
	for i, r := range set.Rules {
		st, ok := e.states[r.Name]
		if !ok {
			// Rule set swapped mid-tick; skip stale entries.
			continue
		}
		res := results[i]
		st.lastEval = now

		if res.err != nil {
			e.evalFailures.Inc()
			e.logger.Error("rule evaluation failed", "rule", r.Name, "error", res.err)
			continue // state unchanged, other rules proceed
		}
		st.lastValue = res.value

		tr := step(st.state, st.becameTrueAt, res.condTrue, now, r.For)
		if tr.fired {
			pending = append(pending, e.notification(r, types.NotifyFiring, res.value, now))
		}
		if tr.resolved {
			pending = append(pending, e.notification(r, types.NotifyResolved, res.value, now))
		}
		st.state = tr.state
		st.becameTrueAt = tr.becameTrueAt
	}
	e.mu.Unlock()

	// Notifications are pushed outside the engine lock; the notifier never
	// calls back into the engine or registry synchronously.
	for _, n := range pending {
		e.notifsSent.Inc()
		e.logger.Info("alert state changed", "rule", n.RuleName, "state", string(n.State), "value", n.Value)
		if e.notify != nil {
			e.notify(n)
		}
	}
}

// observeRateSelector appends the selector's aggregated counter value to the
// rolling history. A selector matching several instances sums them into one
// series; a selector matching nothing records no sample. Caller holds e.mu.
func (e *Engine) observeRateSelector(idx *snapshotIndex, key string, sel rules.Selector, now time.Time) {
	matched := idx.matching(sel)
	if len(matched) == 0 {
		return
	}
	var sum float64
	for _, s := range matched {
		if s.Kind != registry.KindCounter {
			return // kind mismatch surfaces in evalExpr
		}
		sum += s.Value
	}
	e.hist.observe(key, now, sum)
}

// evalWithTimeout runs one rule's expression evaluation bounded by the
// configured timeout. Evaluation is pure and in-memory; on timeout the
// worker goroutine is abandoned and its buffered result discarded.
func (e *Engine) evalWithTimeout(ctx context.Context, r *rules.Rule, idx *snapshotIndex, hist *history, now time.Time) evalResult {
	resCh := make(chan evalResult, 1)
	go func() {
		resCh <- evalExpr(r.Expr, idx, hist, now)
	}()

	timer := time.NewTimer(e.opts.EvalTimeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res
	case <-timer.C:
		return evalResult{err: fmt.Errorf("%w: rule %q after %s", ErrEvaluationTimeout, r.Name, e.opts.EvalTimeout)}
	case <-ctx.Done():
		return evalResult{err: ctx.Err()}
	}
}

func (e *Engine) notification(r *rules.Rule, state types.NotificationState, value float64, now time.Time) types.Notification {
	return types.Notification{
		RuleName:    r.Name,
		Severity:    r.Severity,
		State:       state,
		Value:       value,
		Timestamp:   now,
		Annotations: r.Annotations,
	}
}

// States returns a copy of every loaded rule's evaluation state, sorted by
// rule name.
func (e *Engine) States() []types.RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.RuleStatus, 0, len(e.states))
	for _, st := range e.states {
		rs := types.RuleStatus{
			Name:     st.rule.Name,
			Expr:     st.rule.Expr.String(),
			Severity: st.rule.Severity,
			State:    st.state,
			LastEval: st.lastEval,
		}
		if !st.becameTrueAt.IsZero() {
			since := st.becameTrueAt
			rs.ActiveSince = &since
		}
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
