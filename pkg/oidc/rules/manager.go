// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
)

// Manager holds the registered rules and builds execution plans from them.
// It is safe for concurrent use once registration is complete.
type Manager struct {
	mu    sync.RWMutex
	rules map[Key]Rule
	plans map[string]*Plan

	resolver  *params.Resolver
	logger    *slog.Logger
	telemetry *telemetry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithResolver sets the parameter resolver.
func WithResolver(resolver *params.Resolver) ManagerOption {
	return func(m *Manager) error {
		m.resolver = resolver
		return nil
	}
}

// WithLogger sets the default logger for runs without one.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// NewManager creates a Manager.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		rules:    make(map[Key]Rule),
		plans:    make(map[string]*Plan),
		resolver: params.NewResolver(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds rules. Keys must be unique.
func (m *Manager) Register(rules ...Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rules {
		if r == nil {
			return errors.New("cannot register nil rule")
		}
		if _, ok := m.rules[r.Key()]; ok {
			return fmt.Errorf("rule %s already registered", r.Key())
		}
		m.rules[r.Key()] = r
	}
	// new rules may change how a cached key list resolves
	clear(m.plans)
	return nil
}

// Rule returns the rule registered under key.
func (m *Manager) Rule(key Key) (Rule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[key]
	return r, ok
}

// Plan returns the execution plan for keys. The order given is the
// fail-fast priority; it is kept wherever declared dependencies allow, and a
// rule is moved later only to run after what it depends on. Every dependency
// must itself be among keys. Plans are cached.
func (m *Manager) Plan(keys ...Key) (*Plan, error) {
	cacheKey := planCacheKey(keys)

	m.mu.RLock()
	p, ok := m.plans[cacheKey]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[cacheKey]; ok {
		return p, nil
	}

	ordered, err := m.order(keys)
	if err != nil {
		return nil, err
	}
	p = &Plan{manager: m, rules: ordered}
	m.plans[cacheKey] = p
	return p, nil
}

func planCacheKey(keys []Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// order performs a stable topological sort: at each step the earliest key in
// caller order whose dependencies have all been placed is emitted.
func (m *Manager) order(keys []Key) ([]Rule, error) {
	if len(keys) == 0 {
		return nil, errors.New("plan requires at least one rule")
	}

	selected := make(map[Key]Rule, len(keys))
	for _, k := range keys {
		if _, dup := selected[k]; dup {
			return nil, fmt.Errorf("rule %s listed more than once", k)
		}
		r, ok := m.rules[k]
		if !ok {
			return nil, fmt.Errorf("rule %s is not registered", k)
		}
		selected[k] = r
	}
	for _, k := range keys {
		for _, dep := range selected[k].DependsOn() {
			if _, ok := selected[dep]; !ok {
				return nil, fmt.Errorf("rule %s depends on %s, which is not part of the plan", k, dep)
			}
		}
	}

	placed := make(map[Key]bool, len(keys))
	ordered := make([]Rule, 0, len(keys))
	pending := slices.Clone(keys)
	for len(pending) > 0 {
		next := -1
		for i, k := range pending {
			ready := true
			for _, dep := range selected[k].DependsOn() {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("dependency cycle among rules %v", pending)
		}
		k := pending[next]
		placed[k] = true
		ordered = append(ordered, selected[k])
		pending = slices.Delete(pending, next, next+1)
	}
	return ordered, nil
}

// Plan is an ordered, validated list of rules.
type Plan struct {
	manager *Manager
	rules   []Rule
}

// Keys returns the execution order.
func (p *Plan) Keys() []Key {
	keys := make([]Key, len(p.rules))
	for i, r := range p.rules {
		keys[i] = r.Key()
	}
	return keys
}

// Evaluation is the outcome of a successful run: either a complete bag, or a
// suspension when a rule interrupted the run with a redirect.
type Evaluation struct {
	RunID      string
	Bag        *ResultBag
	Suspension *Suspension
}

// Suspended reports whether the run was interrupted.
func (e *Evaluation) Suspended() bool { return e.Suspension != nil }

// Execute runs the plan against r. It stops at the first error or
// suspension; an error is never accompanied by a bag.
func (p *Plan) Execute(ctx context.Context, r *http.Request, opts RunOptions) (*Evaluation, error) {
	runID := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logger.OrDefault(p.manager.logger)
	}
	log = log.With("run_id", runID)

	data := opts.Data
	if data == nil {
		data = Data{}
	}

	run := &Run{
		ID:                  runID,
		Request:             r,
		Bag:                 NewResultBag(),
		Data:                data,
		UseFragmentEncoding: opts.UseFragmentEncoding,
		AllowedMethods:      opts.AllowedMethods,
		resolver:            p.manager.resolver,
	}

	for _, rule := range p.rules {
		key := rule.Key()
		run.Logger = log.With("rule", string(key))

		outcome, err := p.manager.check(ctx, rule, run)
		if err != nil {
			return nil, annotate(key, err)
		}

		switch outcome.kind {
		case outcomeContinue:
			if err := run.Bag.Add(NewResult(key, outcome.value)); err != nil {
				return nil, annotate(key, err)
			}
		case outcomeSkip:
			run.Logger.Debug("rule produced no result")
		case outcomeSuspend:
			s := outcome.suspension
			if s == nil {
				return nil, fmt.Errorf("rule %s suspended without a suspension", key)
			}
			if s.Rule == "" {
				s.Rule = key
			}
			run.Logger.Debug("run suspended", "reason", s.Reason)
			return &Evaluation{RunID: runID, Suspension: s}, nil
		}
	}

	return &Evaluation{RunID: runID, Bag: run.Bag}, nil
}

// annotate attaches the failing rule's key to err.
func annotate(key Key, err error) error {
	var protoErr *oautherr.Error
	if errors.As(err, &protoErr) {
		return protoErr.Attribute(string(key))
	}
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		if depErr.Rule == "" {
			c := *depErr
			c.Rule = key
			return &c
		}
		return depErr
	}
	return fmt.Errorf("rule %s: %w", key, err)
}

func (m *Manager) check(ctx context.Context, rule Rule, run *Run) (outcome Outcome, err error) {
	if m.telemetry == nil {
		return rule.Check(ctx, run)
	}
	ctx, done := m.telemetry.record(ctx, rule.Key(), &outcome, &err)
	defer done()
	return rule.Check(ctx, run)
}
