// Package analyzer implements the Counter-Diff Analyzer (C4): parsing
// "iptables-save -c" text into a CounterSnapshot, diffing two snapshots,
// and attributing a service test's outcome to an explicit rule, a chain's
// default policy, or an implicit return (§4.4).
package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ksparavec/reachsim/internal/model"
)

// chainHeaderRe matches a chain declaration line, e.g.
// ":FORWARD DROP [23:1456]" or ":CUSTOM_CHAIN - [0:0]".
var chainHeaderRe = regexp.MustCompile(`^:(\S+)\s+(\S+)\s+\[(\d+):(\d+)\]`)

// ruleLineRe matches a counted rule line, e.g.
// "[15:900] -A FORWARD -s 10.0.0.0/24 -j ACCEPT".
var ruleLineRe = regexp.MustCompile(`^\[(\d+):(\d+)\]\s+(.*)$`)

// ruleTargetRe pulls the "-j TARGET" or "-g TARGET" out of a rule line.
var ruleTargetRe = regexp.MustCompile(`-[jg]\s+(\S+)`)

// ParseSave parses the payload of an "iptables-save -c" invocation (the
// same text reachsim replays into a router namespace via iptables-restore,
// §4.2) into a CounterSnapshot. Rule indices are assigned per chain in
// file order, starting at 0, matching the order iptables itself evaluates
// them in.
func ParseSave(router, payload string) (model.CounterSnapshot, error) {
	snap := model.CounterSnapshot{Router: router, Tables: map[string]model.Table{}}

	var table model.Table
	var tableName string
	chainIndex := map[string]int{}

	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "*"):
			tableName = strings.TrimPrefix(line, "*")
			table = model.Table{}
			snap.Tables[tableName] = table
			chainIndex = map[string]int{}
		case line == "COMMIT":
			table = nil
		case strings.HasPrefix(line, ":"):
			if table == nil {
				return model.CounterSnapshot{}, fmt.Errorf("%w: chain declaration %q outside any table",
					model.ErrFactsMalformed, line)
			}
			m := chainHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return model.CounterSnapshot{}, fmt.Errorf("%w: unparsable chain declaration %q",
					model.ErrFactsMalformed, line)
			}
			// Chain-level [packets:bytes] counters aren't used by the
			// analyzer, which only diffs per-rule counters.
			table[m[1]] = model.Chain{Policy: m[2]}
		case strings.HasPrefix(line, "["):
			if table == nil {
				return model.CounterSnapshot{}, fmt.Errorf("%w: rule line %q outside any table",
					model.ErrFactsMalformed, line)
			}
			m := ruleLineRe.FindStringSubmatch(line)
			if m == nil {
				return model.CounterSnapshot{}, fmt.Errorf("%w: unparsable rule line %q",
					model.ErrFactsMalformed, line)
			}
			packets, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return model.CounterSnapshot{}, fmt.Errorf("%w: rule line %q has unparsable packet count: %v",
					model.ErrFactsMalformed, line, err)
			}
			chain, ok := ruleChain(m[3])
			if !ok {
				return model.CounterSnapshot{}, fmt.Errorf("%w: rule line %q missing -A chain", model.ErrFactsMalformed, line)
			}
			idx := chainIndex[chain]
			chainIndex[chain] = idx + 1

			rule := model.Rule{
				Index:   idx,
				Raw:     m[3],
				Target:  ruleTarget(m[3]),
				Packets: packets,
			}
			extractRuleMetadata(&rule)

			c := table[chain]
			c.Rules = append(c.Rules, rule)
			table[chain] = c
		default:
			// iptables-save emits occasional blank comment lines reachsim
			// doesn't need (generated-by banners); ignore anything else.
		}
	}

	return snap, nil
}

// ruleChain extracts the chain name from "-A CHAIN ...".
func ruleChain(raw string) (string, bool) {
	fields := strings.Fields(raw)
	for i, f := range fields {
		if f == "-A" && i+1 < len(fields) {
			return fields[i+1], true
		}
	}
	return "", false
}

func ruleTarget(raw string) string {
	m := ruleTargetRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}
