package pool

import (
	"fmt"
	"sort"

	"github.com/ksparavec/reachsim/internal/model"
)

// analyzeRequirements implements §4.3 phase 2: each job's router path maps
// to host slots (source_ip, router); unioning across jobs collapses
// identical (source_ip, router) pairs onto one shared host. Names are
// assigned source-<n> in a deterministic order scoped to this batch (sorted
// by router then source IP), rather than reusing each job's own path-local
// slot index, since two jobs can disagree about which position in their own
// path a shared host occupies.
func analyzeRequirements(jobs []model.JobSpec, traces []model.TraceResult) (map[string]HostRequirement, map[string][]string) {
	type key struct {
		router   string
		sourceIP string
	}

	seen := make(map[key]bool)
	var keys []key
	jobKeys := make([][]key, len(jobs))

	for i, job := range jobs {
		for _, router := range traces[i].Routers {
			k := key{router: router, sourceIP: job.SourceIP}
			jobKeys[i] = append(jobKeys[i], k)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	sort.Slice(keys, func(a, b int) bool {
		if keys[a].router != keys[b].router {
			return keys[a].router < keys[b].router
		}
		return keys[a].sourceIP < keys[b].sourceIP
	})

	names := make(map[key]string, len(keys))
	requirements := make(map[string]HostRequirement, len(keys))
	for i, k := range keys {
		name := fmt.Sprintf("source-%d", i+1)
		names[k] = name
		requirements[name] = HostRequirement{Name: name, SourceIP: k.sourceIP, Router: k.router}
	}

	jobHostNames := make(map[string][]string, len(jobs))
	for i, job := range jobs {
		hostNames := make([]string, 0, len(jobKeys[i]))
		for _, k := range jobKeys[i] {
			hostNames = append(hostNames, names[k])
		}
		jobHostNames[job.RunID] = hostNames
	}

	return requirements, jobHostNames
}
