package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ksparavec/reachsim/internal/model"
)

// builtinChains are never treated as "custom chains jumped to" (§4.4 step
// 3/4).
var builtinChains = map[string]bool{
	"PREROUTING": true, "INPUT": true, "FORWARD": true,
	"OUTPUT": true, "POSTROUTING": true,
}

// terminalTargets are real verdicts, never a jump to a user-defined chain.
var terminalTargets = map[string]bool{
	"ACCEPT": true, "DROP": true, "REJECT": true, "RETURN": true, "LOG": true,
}

// Analyze attributes one router's service-test outcome to an explicit
// rule, a chain's default policy, or (allowing mode only) an implicit
// return, from a before/after counter snapshot pair (§4.4).
func Analyze(before, after model.CounterSnapshot, mode model.AnalysisMode) model.AnalysisResult {
	trig := triggered(before, after)

	result := model.AnalysisResult{Router: after.Router, Mode: mode}

	switch mode {
	case model.ModeBlocking:
		classifyBlocking(after, trig, &result)
	case model.ModeAllowing:
		classifyAllowing(after, trig, &result)
	default:
		result.Status = model.StatusUnknown
		result.Reason = model.ReasonNoBlockingFound
		result.Description = fmt.Sprintf("unrecognized analysis mode %q", mode)
	}
	return result
}

func classifyBlocking(after model.CounterSnapshot, trig []triggeredRule, result *model.AnalysisResult) {
	var blocking []model.Rule
	for _, t := range trig {
		if t.Rule.Target == "DROP" || t.Rule.Target == "REJECT" || t.Rule.Target == "RETURN" {
			rule := t.Rule
			rule.Chain = t.Chain
			blocking = append(blocking, rule)
		}
	}
	result.BlockingRules = blocking

	if len(blocking) > 0 {
		result.Status = model.StatusBlocked
		result.Reason = model.ReasonExplicitRules
		result.Description = fmt.Sprintf("blocked by %d firewall rule(s)", len(blocking))
		result.Details = ruleSummary(blocking)
		result.RulesFound = len(blocking)
		return
	}

	jumped := jumpedCustomChains(trig)
	if chain, ok := deepestChainWithPolicy(after, trig, jumped, "DROP"); ok {
		result.Status = model.StatusBlocked
		result.Reason = model.ReasonDefaultPolicy
		result.Description = fmt.Sprintf("blocked by %s chain default DROP policy", chain)
		result.Details = fmt.Sprintf("no explicit DROP/REJECT/RETURN rule matched; %s chain's default policy is DROP", chain)
		result.BlockingRules = []model.Rule{defaultPolicyRule(chain, "DROP")}
		return
	}
	if forward, ok := after.Tables["filter"]["FORWARD"]; ok && forward.Policy == "DROP" {
		result.Status = model.StatusBlocked
		result.Reason = model.ReasonDefaultPolicy
		result.Description = "blocked by FORWARD chain default DROP policy"
		result.Details = "no explicit blocking rule or custom-chain default matched; FORWARD policy is DROP"
		result.BlockingRules = []model.Rule{defaultPolicyRule("FORWARD", "DROP")}
		return
	}

	result.Status = model.StatusUnknown
	result.Reason = model.ReasonNoBlockingFound
	result.Description = "no blocking rule or default policy accounted for this outcome"
}

// defaultPolicyRule is the synthetic blocking_rules/allowing_rules entry
// original_source's analyze_packet_counts.py builds when attribution
// falls through to a chain's default policy rather than an explicit rule
// (§8 Scenario F: "blocking_rules contains a synthetic 'Default policy:
// DROP' entry with chain=FORWARD").
func defaultPolicyRule(chain, target string) model.Rule {
	return model.Rule{
		Index:  -1,
		Chain:  chain,
		Raw:    fmt.Sprintf("Default policy: %s", target),
		Target: target,
	}
}

func classifyAllowing(after model.CounterSnapshot, trig []triggeredRule, result *model.AnalysisResult) {
	var allowing []model.Rule
	onlyEstablished := true
	for _, t := range trig {
		if t.Rule.Target != "ACCEPT" {
			continue
		}
		rule := t.Rule
		rule.Chain = t.Chain
		allowing = append(allowing, rule)
		if !isEstablishedRule(t.Rule) {
			onlyEstablished = false
		}
	}

	implicit := implicitReturnChains(after, trig)

	switch {
	case len(allowing) > 0 && onlyEstablished && len(implicit) > 0:
		result.Status = model.StatusAllowed
		result.Reason = model.ReasonDefaultPolicyNew
		result.Description = "new connections allowed by FORWARD chain default policy"
		result.Details = "the initial packet traversed an empty custom chain and returned to FORWARD's default ACCEPT; later packets matched the RELATED,ESTABLISHED rule"
		result.AllowingRules = allowing
		return
	case len(allowing) > 0:
		result.Status = model.StatusAllowed
		result.Reason = model.ReasonExplicitRules
		result.Description = fmt.Sprintf("allowed by %d firewall rule(s)", len(allowing))
		result.Details = ruleSummary(allowing)
		result.RulesFound = len(allowing)
		result.AllowingRules = allowing
		return
	case len(implicit) > 0:
		result.Status = model.StatusAllowed
		result.Reason = model.ReasonImplicitReturn
		result.Description = "allowed by FORWARD chain default ACCEPT policy after implicit RETURN"
		result.Details = fmt.Sprintf("no rule matched in chain(s) %v; packets returned to FORWARD and were allowed by its default policy", implicit)
		return
	}

	jumped := jumpedCustomChains(trig)
	if chain, ok := deepestChainWithPolicy(after, trig, jumped, "ACCEPT"); ok {
		result.Status = model.StatusAllowed
		result.Reason = model.ReasonDefaultPolicy
		result.Description = fmt.Sprintf("allowed by %s chain default ACCEPT policy", chain)
		result.Details = fmt.Sprintf("no explicit ACCEPT rule matched; %s chain's default policy is ACCEPT", chain)
		result.AllowingRules = []model.Rule{defaultPolicyRule(chain, "ACCEPT")}
		return
	}
	if forward, ok := after.Tables["filter"]["FORWARD"]; ok && forward.Policy == "ACCEPT" {
		result.Status = model.StatusAllowed
		result.Reason = model.ReasonDefaultPolicy
		result.Description = "allowed by FORWARD chain default ACCEPT policy"
		result.Details = "no explicit allowing rule or custom-chain default matched; FORWARD policy is ACCEPT"
		result.AllowingRules = []model.Rule{defaultPolicyRule("FORWARD", "ACCEPT")}
		return
	}

	result.Status = model.StatusUnknown
	result.Reason = model.ReasonNoAllowingFound
	result.Description = "no allowing rule or default policy accounted for this outcome"
}

func isEstablishedRule(r model.Rule) bool {
	return strings.Contains(r.Raw, "RELATED") && strings.Contains(r.Raw, "ESTABLISHED")
}

// jumpedCustomChains returns the set of non-built-in chain names the
// triggered set jumped into, i.e. rules whose target is not a terminal
// verdict (§4.4 step 3/4).
func jumpedCustomChains(trig []triggeredRule) map[string]bool {
	out := map[string]bool{}
	for _, t := range trig {
		target := t.Rule.Target
		if target == "" || terminalTargets[target] || builtinChains[target] {
			continue
		}
		out[target] = true
	}
	return out
}

// implicitReturnChains is the subset of jumped custom chains that had no
// rule of their own in the triggered set. The packet fell through every
// rule and returned to its caller without matching anything (§4.4 step 4).
func implicitReturnChains(after model.CounterSnapshot, trig []triggeredRule) []string {
	jumped := jumpedCustomChains(trig)
	matched := map[string]bool{}
	for _, t := range trig {
		matched[t.Chain] = true
	}

	var out []string
	for chain := range jumped {
		if !matched[chain] {
			out = append(out, chain)
		}
	}
	sort.Strings(out)
	return out
}

// deepestChainWithPolicy picks, among the custom chains jumped to without
// their own matched rule, the one with the given policy that sits deepest
// in the FORWARD jump graph built from the triggered set, ties broken by
// chain name (§4.4 "Determinism": "prefer the deepest custom chain that
// was jumped to").
func deepestChainWithPolicy(after model.CounterSnapshot, trig []triggeredRule, jumped map[string]bool, policy string) (string, bool) {
	matched := map[string]bool{}
	edges := map[string][]string{} // fromChain -> []toChain
	for _, t := range trig {
		matched[t.Chain] = true
		target := t.Rule.Target
		if target != "" && !terminalTargets[target] {
			edges[t.Chain] = append(edges[t.Chain], target)
		}
	}

	depth := map[string]int{}
	var walk func(chain string, d int)
	visited := map[string]bool{}
	walk = func(chain string, d int) {
		if visited[chain] {
			return
		}
		visited[chain] = true
		if d > depth[chain] {
			depth[chain] = d
		}
		for _, next := range edges[chain] {
			walk(next, d+1)
		}
	}
	walk("FORWARD", 0)

	var candidates []string
	for chain := range jumped {
		if matched[chain] {
			continue // this chain had its own matched rule; not a default-policy case
		}
		if chainPolicy(after, chain) == policy {
			candidates = append(candidates, chain)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)

	best := candidates[0]
	for _, c := range candidates[1:] {
		if depth[c] > depth[best] {
			best = c
		}
	}
	return best, true
}

func chainPolicy(snap model.CounterSnapshot, chain string) string {
	for _, table := range snap.Tables {
		if c, ok := table[chain]; ok {
			return c.Policy
		}
	}
	return ""
}

func ruleSummary(rules []model.Rule) string {
	s := ""
	for i, r := range rules {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("rule #%d (%s)", r.Index, r.Target)
	}
	return s
}
