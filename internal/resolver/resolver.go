// Package resolver implements the provider resolution stage: given a caller
// token and a requested model alias, it expands the caller's configured
// model rules into an ordered, weighted list of dispatch candidates.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/nulpointcorp/uniproxy/internal/protocol"
	"github.com/nulpointcorp/uniproxy/internal/scheduler"
)

// rule is one expanded (provider, alias) pairing produced from a caller's
// model rule list, one rule per entry. A bare alias can match several
// providers and a provider/* wildcard several aliases; "provider/model"
// stays scoped to one.
type rule struct {
	provider string // empty means "any provider serving this alias"
	alias    string // empty means "every alias this provider serves" (wildcard)
}

// Resolver expands caller policy into ordered dispatch candidates.
type Resolver struct {
	cfg       *config.Config
	sched     *scheduler.Manager
	keyCursor map[string]*atomic.Uint64 // provider name -> rotation cursor across its api_key list
}

// New builds a Resolver over the given configuration.
func New(cfg *config.Config, sched *scheduler.Manager) *Resolver {
	cursors := make(map[string]*atomic.Uint64, len(cfg.Providers))
	for _, p := range cfg.Providers {
		cursors[p.Name] = new(atomic.Uint64)
	}
	return &Resolver{cfg: cfg, sched: sched, keyCursor: cursors}
}

// NoMatchingModel is returned when a caller has no candidate providers for
// the requested alias.
type NoMatchingModel struct{ Model string }

func (e *NoMatchingModel) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

// Resolve expands token's model policy against requestedModel (the
// caller-facing alias) and endpoint (the inbound route, which can force
// engine selection independent of the model), returning an ordered
// candidate list: the scheduler's pick first, then the remaining
// candidates in their resolved order for failover.
func (r *Resolver) Resolve(token, requestedModel, endpoint string) ([]protocol.Candidate, error) {
	rec, ok := r.cfg.Record(token)
	if !ok {
		return nil, fmt.Errorf("resolver: unknown token")
	}

	rules := expandRules(rec.Model)

	// Stage 2: candidate materialization. Duplicate (provider, alias) pairs
	// in the caller's rule list intentionally produce duplicate candidates —
	// that inflates a provider's effective share of the round robin, and is
	// preserved rather than deduplicated.
	type matched struct {
		provider config.Provider
		alias    string
	}
	var materialized []matched
	for _, rl := range rules {
		for _, p := range r.cfg.Providers {
			if rl.provider != "" && rl.provider != p.Name {
				continue
			}
			if rl.alias == "" {
				// provider/* wildcard: only valid if the alias requested is
				// actually served by this provider.
				if p.HasAlias(requestedModel) {
					materialized = append(materialized, matched{p, requestedModel})
				}
				continue
			}
			if rl.alias == requestedModel && p.HasAlias(requestedModel) {
				materialized = append(materialized, matched{p, requestedModel})
			}
		}
	}

	if len(materialized) == 0 {
		return nil, &NoMatchingModel{Model: requestedModel}
	}

	// Stage 3: weighting/reordering via the weighted scheduler, keyed per
	// (token, model) so the round-robin cursor persists across requests for
	// this caller's view of this alias.
	items := make([]scheduler.WeightedItem, 0, len(materialized))
	for _, m := range materialized {
		w := 1
		if rec.Weights != nil {
			if configured, ok := rec.Weights[m.provider.Name]; ok && configured > 0 {
				w = configured
			}
		}
		items = append(items, scheduler.WeightedItem{Name: m.provider.Name, Weight: w})
	}

	var order []string
	if rec.Preferences.RoundRobinEnabled() {
		order = r.sched.Order(groupKey(token, requestedModel), items)
	} else {
		for _, m := range materialized {
			order = append(order, m.provider.Name)
		}
	}

	byName := make(map[string][]matched, len(materialized))
	for _, m := range materialized {
		byName[m.provider.Name] = append(byName[m.provider.Name], m)
	}

	candidates := make([]protocol.Candidate, 0, len(materialized))
	for _, name := range order {
		ms := byName[name]
		if len(ms) == 0 {
			continue
		}
		m := ms[0]
		byName[name] = ms[1:]
		candidates = append(candidates, r.buildCandidate(m.provider, m.alias, endpoint))
	}

	return candidates, nil
}

func groupKey(token, model string) string {
	return token + "\x00" + model
}

func (r *Resolver) buildCandidate(p config.Provider, alias, endpoint string) protocol.Candidate {
	upstream := p.UpstreamModel(alias)
	engine := protocol.SelectEngine(endpoint, protocol.ProviderInfo{
		BaseURL:        p.BaseURL,
		EngineOverride: protocol.Engine(p.Engine),
	}, upstream)

	return protocol.Candidate{
		ProviderName:  p.Name,
		Engine:        engine,
		BaseURL:       p.BaseURL,
		APIKey:        r.nextKey(p),
		UpstreamModel: upstream,
		Extra:         p.Extra,
	}
}

// nextKey rotates across a provider's configured api_key list so repeated
// dispatches spread load across all of a provider's credentials.
func (r *Resolver) nextKey(p config.Provider) string {
	if len(p.APIKeys) == 0 {
		return ""
	}
	if len(p.APIKeys) == 1 {
		return p.APIKeys[0]
	}
	cur, ok := r.keyCursor[p.Name]
	if !ok {
		return p.APIKeys[0]
	}
	i := cur.Add(1) - 1
	return p.APIKeys[int(i)%len(p.APIKeys)]
}

// expandRules turns a caller's raw model rule strings into (provider, alias)
// rules. Three shapes are accepted:
//
//	"alias"            -> any provider serving this alias
//	"provider/alias"    -> scoped to one provider
//	"provider/*"        -> every alias that provider serves
func expandRules(raw []string) []rule {
	rules := make([]rule, 0, len(raw))
	for _, r := range raw {
		if !strings.Contains(r, "/") {
			rules = append(rules, rule{alias: r})
			continue
		}
		parts := strings.SplitN(r, "/", 2)
		prov, alias := parts[0], parts[1]
		if alias == "*" {
			rules = append(rules, rule{provider: prov, alias: ""})
			continue
		}
		rules = append(rules, rule{provider: prov, alias: alias})
	}
	return rules
}

// VisibleModels returns the sorted, deduplicated set of logical aliases a
// caller's token policy makes reachable, for GET /v1/models.
func (r *Resolver) VisibleModels(token string) ([]string, error) {
	rec, ok := r.cfg.Record(token)
	if !ok {
		return nil, fmt.Errorf("resolver: unknown token")
	}

	rules := expandRules(rec.Model)
	seen := make(map[string]bool)
	for _, rl := range rules {
		for _, p := range r.cfg.Providers {
			if rl.provider != "" && rl.provider != p.Name {
				continue
			}
			if rl.alias == "" {
				for alias := range p.Model {
					seen[alias] = true
				}
				continue
			}
			if p.HasAlias(rl.alias) {
				seen[rl.alias] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for alias := range seen {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out, nil
}
