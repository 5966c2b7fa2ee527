package analyzer

import (
	"sort"

	"github.com/ksparavec/reachsim/internal/model"
)

// triggeredRule is one (chain, rule) pair whose packet counter advanced
// between before and after, in (table, chain, rule_index) order (§4.4
// step 1, "Determinism").
type triggeredRule struct {
	Table string
	Chain string
	Rule  model.Rule
}

// triggered indexes before by (table, chain, rule_index) and returns every
// after-rule whose counter is strictly greater, in (table, chain,
// rule_index) order (§4.4 step 1, "Determinism").
func triggered(before, after model.CounterSnapshot) []triggeredRule {
	type key struct {
		table, chain string
		index        int
	}
	beforeCounts := map[key]uint64{}
	for tableName, table := range before.Tables {
		for chainName, chain := range table {
			for _, r := range chain.Rules {
				beforeCounts[key{tableName, chainName, r.Index}] = r.Packets
			}
		}
	}

	tableNames := make([]string, 0, len(after.Tables))
	for name := range after.Tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)

	var out []triggeredRule
	for _, tableName := range tableNames {
		table := after.Tables[tableName]
		chains := sortedChainNames(table)
		for _, chainName := range chains {
			chain := table[chainName]
			for _, r := range chain.Rules {
				if r.Packets > beforeCounts[key{tableName, chainName, r.Index}] {
					out = append(out, triggeredRule{Table: tableName, Chain: chainName, Rule: r})
				}
			}
		}
	}
	return out
}

func sortedChainNames(table model.Table) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	// Insertion order within a table is deterministic (iptables-save
	// emits built-ins first, each chain's own rule order after), but Go
	// map iteration is not, so recover a stable order by name.
	sort.Strings(names)
	return names
}
