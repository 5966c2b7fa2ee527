package fabric

// routingTableAliasIDs is the frozen alias → numeric routing-table ID map
// from §6 "Routing-table alias → numeric ID map". Policy-routing restore
// substitutes "lookup <alias>" with "table <id>" using this table rather
// than relying on named-table resolution via /etc/iproute2/rt_tables,
// which would require per-namespace file state this fabric doesn't carry.
var routingTableAliasIDs = map[string]int{
	"priority_table":   100,
	"service_table":    200,
	"backup_table":     300,
	"qos_table":        400,
	"management_table": 500,
	"database_table":   600,
	"web_table":        700,
	"emergency_table":  800,
}
