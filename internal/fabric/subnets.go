package fabric

import (
	"sort"

	"github.com/ksparavec/reachsim/internal/facts"
	"github.com/ksparavec/reachsim/internal/model"
)

// discoverSubnets scans every router's declared interfaces and groups
// addresses by network (§4.2 step 4). Map key is the subnet's CIDR string
// (model.Subnet.Key()).
func discoverSubnets(allFacts map[string]model.RouterFacts) (map[string]*model.Subnet, error) {
	subnets := make(map[string]*model.Subnet)

	routerNames := make([]string, 0, len(allFacts))
	for name := range allFacts {
		routerNames = append(routerNames, name)
	}
	sort.Strings(routerNames)

	for _, router := range routerNames {
		ifaces, err := facts.Interfaces(allFacts[router])
		if err != nil {
			return nil, err
		}

		for _, iface := range ifaces {
			for _, addr := range iface.Addresses {
				network := addr.Masked()
				key := network.String()

				sn, ok := subnets[key]
				if !ok {
					sn = &model.Subnet{CIDR: network}
					subnets[key] = sn
				}
				sn.Members = append(sn.Members, model.SubnetMember{
					Router:    router,
					Interface: iface.Name,
					IP:        addr.Addr(),
				})
			}
		}
	}

	return subnets, nil
}
