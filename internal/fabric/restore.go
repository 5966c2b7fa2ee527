package fabric

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/ksparavec/reachsim/internal/model"
)

// lookupAliasRe matches "lookup <alias>" inside a policy-routing rule line.
var lookupAliasRe = regexp.MustCompile(`\blookup\s+(\S+)\b`)

// applyRouterConfig runs §4.2 step 7 for one router namespace: routing
// table, optional policy routing, iptables, and ipsets. Per-line failures
// are collected as *model.FabricApplyWarning and returned together rather
// than aborting — step 7 failures are warnings, not fatal (§4.2).
func (b *Builder) applyRouterConfig(ctx context.Context, ns string, rf model.RouterFacts, enablePolicyRouting bool) *multierror.Error {
	var warnings *multierror.Error

	if sec, ok := rf.Sections[model.SectionRoutingTable]; ok {
		warnings = multierror.Append(warnings, b.restoreRoutes(ctx, rf.Name, ns, sec.Payload, 0)...)
	}

	if enablePolicyRouting {
		for _, alias := range routingTableAliasesOf(rf) {
			id, known := routingTableAliasIDs[alias]
			if !known {
				warnings = multierror.Append(warnings, &model.FabricApplyWarning{
					Router: rf.Name, Line: alias,
					Err: fmt.Errorf("unknown routing table alias %q", alias),
				})
				continue
			}
			sec := rf.Sections[model.RoutingTableSection(alias)]
			warnings = multierror.Append(warnings, b.restoreRoutes(ctx, rf.Name, ns, sec.Payload, id)...)
		}

		if sec, ok := rf.Sections[model.SectionPolicyRules]; ok {
			warnings = multierror.Append(warnings, b.restorePolicyRules(ctx, rf.Name, ns, sec.Payload)...)
		}
	}

	if sec, ok := rf.Sections[model.SectionIPTablesSave]; ok {
		if err := b.restoreIPTables(ctx, ns, sec.Payload); err != nil {
			warnings = multierror.Append(warnings, &model.FabricApplyWarning{Router: rf.Name, Line: "iptables-restore", Err: err})
		}
	}

	if sec, ok := rf.Sections[model.SectionIPSetSave]; ok {
		if err := b.restoreIPSet(ctx, ns, sec.Payload); err != nil {
			warnings = multierror.Append(warnings, &model.FabricApplyWarning{Router: rf.Name, Line: "ipset restore", Err: err})
		}
	}

	return warnings
}

func routingTableAliasesOf(rf model.RouterFacts) []string {
	prefix := model.SectionRoutingTable + "_"
	var aliases []string
	for name := range rf.Sections {
		if strings.HasPrefix(name, prefix) {
			aliases = append(aliases, strings.TrimPrefix(name, prefix))
		}
	}
	sort.Strings(aliases)
	return aliases
}

// restoreRoutes executes "ip route add <line>" for each non-blank line of
// payload inside ns, optionally into a named numeric table. Per-line
// duplicate-route errors are expected and ignored (idempotent re-apply).
func (b *Builder) restoreRoutes(ctx context.Context, router, ns, payload string, table int) []error {
	var errs []error
	for _, line := range splitNonBlankLines(payload) {
		argv := append([]string{"ip", "route", "add"}, strings.Fields(line)...)
		if table != 0 {
			argv = append(argv, "table", strconv.Itoa(table))
		}
		if _, err := b.run.Run(ctx, ns, argv, nil); err != nil && !isDuplicateRouteError(err) {
			errs = append(errs, &model.FabricApplyWarning{Router: router, Line: line, Err: err})
		}
	}
	return errs
}

// restorePolicyRules executes "ip rule add <line>" for each policy_rules
// line, substituting "lookup <alias>" with "table <id>" per the frozen
// alias map.
func (b *Builder) restorePolicyRules(ctx context.Context, router, ns, payload string) []error {
	var errs []error
	for _, line := range splitNonBlankLines(payload) {
		substituted := lookupAliasRe.ReplaceAllStringFunc(line, func(m string) string {
			groups := lookupAliasRe.FindStringSubmatch(m)
			alias := groups[1]
			if id, ok := routingTableAliasIDs[alias]; ok {
				return "table " + strconv.Itoa(id)
			}
			return m
		})

		argv := append([]string{"ip", "rule", "add"}, strings.Fields(substituted)...)
		if _, err := b.run.Run(ctx, ns, argv, nil); err != nil {
			errs = append(errs, &model.FabricApplyWarning{Router: router, Line: line, Err: err})
		}
	}
	return errs
}

func (b *Builder) restoreIPTables(ctx context.Context, ns, payload string) error {
	_, err := b.run.Run(ctx, ns, []string{"iptables-restore"}, []byte(payload))
	return err
}

func (b *Builder) restoreIPSet(ctx context.Context, ns, payload string) error {
	_, err := b.run.Run(ctx, ns, []string{"ipset", "restore"}, []byte(payload))
	return err
}

// attachLatency applies §4.2 step 8: 10ms netem delay on a VPN-gateway
// router's designated interface.
func (b *Builder) attachLatency(ctx context.Context, ns, iface string) error {
	_, err := b.run.Run(ctx, ns, []string{"tc", "qdisc", "add", "dev", iface, "root", "netem", "delay", "10ms"}, nil)
	return err
}

func splitNonBlankLines(payload string) []string {
	var lines []string
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// isDuplicateRouteError reports whether err looks like the "RTNETLINK
// answers: File exists" class of error ip route add produces for a route
// that is already present — expected and benign on idempotent re-apply.
func isDuplicateRouteError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "file exists")
}
