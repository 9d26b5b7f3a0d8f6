// Package rules holds the admission rule registry and request matcher.
package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"skillswap/pkg/models"
)

// EvaluatorFunc is a named custom predicate. Rules reference evaluators by
// key so rule records stay plain data.
type EvaluatorFunc func(models.RequestContext) bool

type Registry struct {
	mu         sync.RWMutex
	rules      map[string]models.Rule
	evaluators map[string]EvaluatorFunc
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rules:      map[string]models.Rule{},
		evaluators: map[string]EvaluatorFunc{},
		now:        time.Now,
	}
}

// Register validates and stores a rule, replacing any rule with the same id.
// A rule referencing an unknown evaluator is rejected rather than silently
// matching nothing.
func (r *Registry) Register(rule models.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name := rule.Conditions.Evaluator; name != "" {
		if _, ok := r.evaluators[name]; !ok {
			return fmt.Errorf("%w: unknown evaluator %q", models.ErrRuleValidation, name)
		}
	}
	r.rules[rule.ID] = rule
	return nil
}

func (r *Registry) Remove(ruleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, ruleID)
}

func (r *Registry) Get(ruleID string) (models.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[ruleID]
	return rule, ok
}

func (r *Registry) List() []models.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RegisterEvaluator installs a named custom predicate for rules to reference.
func (r *Registry) RegisterEvaluator(name string, fn EvaluatorFunc) {
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[name] = fn
}

// Applicable returns enabled, unexpired rules whose conditions all match
// rc, ordered by descending priority.
func (r *Registry) Applicable(rc models.RequestContext) []models.Rule {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []models.Rule
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if !rule.ExpiresAt.IsZero() && now.After(rule.ExpiresAt) {
			continue
		}
		if !matchConditions(rule.Conditions, rc, now) {
			continue
		}
		if name := rule.Conditions.Evaluator; name != "" {
			fn, ok := r.evaluators[name]
			if !ok || !fn(rc) {
				continue
			}
		}
		matched = append(matched, rule)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}
