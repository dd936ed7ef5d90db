package policy

import (
	"sort"
	"sync"

	"github.com/agentfabric/rrsc/internal/ports"
)

// Action is a policy outcome (spec.md §4.6, GLOSSARY).
type Action string

const (
	ActionAllow         Action = "allow"
	ActionBlock         Action = "block"
	ActionFilter        Action = "filter"
	ActionRequireReview Action = "require_review"
	ActionLog           Action = "log"
	ActionEscalate      Action = "escalate"
)

// FilterStrategy names the content-filter adapter strategy an ActionFilter
// rule delegates to (spec.md §4.6).
type FilterStrategy string

const (
	StrategyRemove    FilterStrategy = "remove"
	StrategyReplace   FilterStrategy = "replace"
	StrategyBlock     FilterStrategy = "block"
	StrategyMark      FilterStrategy = "mark"
	StrategySanitize  FilterStrategy = "sanitize"
	StrategyAllow     FilterStrategy = "allow"
)

// Rule is one evaluatable condition/action pair (spec.md §3).
type Rule struct {
	ID        string
	Enabled   bool
	Priority  int
	Condition *ConditionTree
	Action    Action
	Strategy  FilterStrategy // meaningful only when Action == ActionFilter
}

// Scope is a policy's applicability classifier (spec.md §3, GLOSSARY).
type Scope string

const (
	ScopeGlobal      Scope = "global"
	ScopeSession     Scope = "session"
	ScopeUser        Scope = "user"
	ScopeContentType Scope = "content_type"
	ScopeSource      Scope = "source"
)

// Policy groups an ordered rule list under a scope (spec.md §3).
type Policy struct {
	ID       string
	Enabled  bool
	Scope    Scope
	ScopeID  string // empty for ScopeGlobal
	Priority int
	RuleIDs  []string
}

// MatchedRule is one rule that matched during evaluation, carrying enough
// to resolve cross-policy precedence (spec.md §4.6 point "tie-break").
type MatchedRule struct {
	PolicyID       string
	PolicySortRank int
	Rule           Rule
}

// Result is evaluate_and_enforce's output (spec.md §4.6).
type Result struct {
	Action        Action
	Matched       []MatchedRule
	WinningRule   *MatchedRule
	FilterOutcome *FilterOutcome // set only when the winning action is Filter
}

// FilterOutcome is the content filter collaborator's verdict.
type FilterOutcome struct {
	Strategy FilterStrategy
	Content  string
	Blocked  bool
}

// Filterer is the content filter collaborator contract (spec.md §4.6,
// §1 "ML-style content classification" is an external concern; this
// engine only calls through the named strategy).
type Filterer interface {
	Filter(strategy FilterStrategy, content string) (FilterOutcome, error)
}

// Engine is the scope-indexed policy engine (spec.md §4.6, §9 "scope
// index duplication is intentional for O(1) lookup").
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	rules    map[string]*Rule
	// scopeIndex[scope][scopeID] = set of policy ids. Global policies are
	// stored under scopeIndex[ScopeGlobal][""].
	scopeIndex map[Scope]map[string]map[string]struct{}
	filter     Filterer
}

// New constructs an empty Engine. filter may be nil if no rule ever uses
// ActionFilter (calling Filter without one raises RuleEvaluationFailed).
func New(filter Filterer) *Engine {
	return &Engine{
		policies:   make(map[string]*Policy),
		rules:      make(map[string]*Rule),
		scopeIndex: make(map[Scope]map[string]map[string]struct{}),
		filter:     filter,
	}
}

func (e *Engine) indexBucket(scope Scope, scopeID string) map[string]struct{} {
	byID, ok := e.scopeIndex[scope]
	if !ok {
		byID = make(map[string]map[string]struct{})
		e.scopeIndex[scope] = byID
	}
	bucket, ok := byID[scopeID]
	if !ok {
		bucket = make(map[string]struct{})
		byID[scopeID] = bucket
	}
	return bucket
}

// PutRule inserts or replaces a rule (mutation API, transactional within
// the call per spec.md §6).
func (e *Engine) PutRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := r
	e.rules[r.ID] = &cp
}

// DeleteRule removes a rule by id. Policies referencing it keep the
// dangling reference, which evaluates as no-match (spec.md §6).
func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return ports.ErrNotFound.WithTarget(id)
	}
	delete(e.rules, id)
	return nil
}

// PutPolicy inserts or replaces a policy, updating the scope index and
// policy map atomically under the same lock (spec.md §9).
func (e *Engine) PutPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.policies[p.ID]; ok {
		e.removeFromIndexLocked(existing)
	}
	cp := p
	e.policies[p.ID] = &cp
	scopeID := p.ScopeID
	if p.Scope == ScopeGlobal {
		scopeID = ""
	}
	e.indexBucket(p.Scope, scopeID)[p.ID] = struct{}{}
}

// DeletePolicy removes a policy from both the policy map and the scope
// index (spec.md §8 round-trip law: add/remove is a no-op composition).
func (e *Engine) DeletePolicy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok {
		return ports.ErrNotFound.WithTarget(id)
	}
	e.removeFromIndexLocked(p)
	delete(e.policies, id)
	return nil
}

func (e *Engine) removeFromIndexLocked(p *Policy) {
	scopeID := p.ScopeID
	if p.Scope == ScopeGlobal {
		scopeID = ""
	}
	if byID, ok := e.scopeIndex[p.Scope]; ok {
		if bucket, ok := byID[scopeID]; ok {
			delete(bucket, p.ID)
		}
	}
}

// lookup returns the union of policies applicable to ctx (spec.md §4.6
// "Policy lookup"), sorted by descending priority with id as a stable
// final tiebreak so sort order (and thus PolicySortRank) is deterministic.
func (e *Engine) lookup(ctx Context) []*Policy {
	seen := make(map[string]struct{})
	var out []*Policy

	add := func(scope Scope, scopeID string) {
		byID, ok := e.scopeIndex[scope]
		if !ok {
			return
		}
		for id := range byID[scopeID] {
			if _, dup := seen[id]; dup {
				continue
			}
			p, ok := e.policies[id]
			if !ok || !p.Enabled {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, p)
		}
	}

	add(ScopeGlobal, "")
	if ct, ok := ctx.stringField("content_type"); ok {
		add(ScopeContentType, ct)
	}
	if uid, ok := ctx.stringField("user_id"); ok {
		add(ScopeUser, uid)
	}
	if sid, ok := ctx.stringField("session_id"); ok {
		add(ScopeSession, sid)
	}
	if src, ok := ctx.stringField("source_id"); ok {
		add(ScopeSource, src)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate runs rule evaluation over ctx without enforcing (spec.md §4.6,
// §8 "Policy determinism": a pure function of (policies, rules, context)).
func (e *Engine) Evaluate(ctx Context) (Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := e.lookup(ctx)
	var matched []MatchedRule
	for rank, p := range policies {
		for _, ruleID := range p.RuleIDs {
			rule, ok := e.rules[ruleID]
			if !ok || !rule.Enabled {
				continue // dangling reference: no-match (spec.md §6)
			}
			ok2, err := rule.Condition.Evaluate(ctx)
			if err != nil {
				return Result{}, ports.New(ports.KindInternal, "evaluate_rule", err)
			}
			if ok2 {
				matched = append(matched, MatchedRule{PolicyID: p.ID, PolicySortRank: rank, Rule: *rule})
			}
		}
	}

	if len(matched) == 0 {
		return Result{Action: ActionAllow, Matched: matched}, nil
	}

	// Winning rule: highest rule priority; ties broken by earliest policy
	// in sorted order, then earliest rule within that policy's listed
	// order (spec.md §4.6, §8 scenario 3 — rule priority is primary).
	winner := matched[0]
	for _, m := range matched[1:] {
		if m.Rule.Priority > winner.Rule.Priority {
			winner = m
			continue
		}
		if m.Rule.Priority == winner.Rule.Priority && m.PolicySortRank < winner.PolicySortRank {
			winner = m
		}
	}

	return Result{Action: winner.Rule.Action, Matched: matched, WinningRule: &winner}, nil
}

// DefaultRules returns the baseline rule/policy set the original safety
// service seeds new engines with: block malicious content, replace
// explicit content, mark security-concern content, sanitize HTML.
// Callers opt in explicitly via PutRule/PutPolicy; New never installs
// these on its own.
func DefaultRules() ([]Rule, Policy) {
	rules := []Rule{
		{
			ID:        "default-malicious-rule",
			Enabled:   true,
			Priority:  100,
			Condition: Leaf("primary_category", OpEquals, String("malicious")),
			Action:    ActionBlock,
		},
		{
			ID:        "default-explicit-rule",
			Enabled:   true,
			Priority:  90,
			Condition: Leaf("primary_category", OpEquals, String("explicit")),
			Action:    ActionFilter,
			Strategy:  StrategyReplace,
		},
		{
			ID:        "default-security-rule",
			Enabled:   true,
			Priority:  80,
			Condition: Leaf("primary_category", OpEquals, String("security_concern")),
			Action:    ActionFilter,
			Strategy:  StrategyMark,
		},
		{
			ID:        "default-html-rule",
			Enabled:   true,
			Priority:  70,
			Condition: Leaf("content_type", OpEquals, String("html")),
			Action:    ActionFilter,
			Strategy:  StrategySanitize,
		},
	}

	policy := Policy{
		ID:       "default-safety-policy",
		Enabled:  true,
		Scope:    ScopeGlobal,
		Priority: 100,
		RuleIDs:  []string{"default-malicious-rule", "default-explicit-rule", "default-security-rule", "default-html-rule"},
	}

	return rules, policy
}

// EvaluateAndEnforce evaluates ctx and, if the winning action is Filter,
// calls through to the content filter collaborator exactly once
// (spec.md §4.6 "never contacts the collaborator more than once per call").
func (e *Engine) EvaluateAndEnforce(ctx Context, content string) (Result, error) {
	res, err := e.Evaluate(ctx)
	if err != nil {
		return Result{}, err
	}
	if res.Action != ActionFilter || res.WinningRule == nil {
		return res, nil
	}
	if e.filter == nil {
		return Result{}, ports.Newf(ports.KindInternal, "evaluate_rule", "filter action requires a configured content filter")
	}
	outcome, err := e.filter.Filter(res.WinningRule.Rule.Strategy, content)
	if err != nil {
		return Result{}, ports.New(ports.KindInternal, "evaluate_rule", err)
	}
	res.FilterOutcome = &outcome
	return res, nil
}
