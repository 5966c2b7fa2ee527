package facts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/ksparavec/reachsim/internal/model"
)

const factsFileSuffix = "_facts.txt"

// requiredSections are the sections §4.1 requires every RouterFacts to
// carry; their absence is FactsMalformed.
var requiredSections = []string{model.SectionInterfaces, model.SectionRoutingTable}

// Loader parses raw-facts files into model.RouterFacts (C1).
type Loader struct {
	logger hclog.Logger
}

// New returns a Loader.
func New(logger hclog.Logger) *Loader {
	return &Loader{logger: logger.Named("facts")}
}

// LoadDirectory implements the C1 contract: load_directory(path) →
// mapping(router_name → RouterFacts). Input is a directory of
// "<router>_facts.txt" files.
func (l *Loader) LoadDirectory(path string) (map[string]model.RouterFacts, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", model.ErrFactsIO, path, err)
	}

	result := make(map[string]model.RouterFacts)
	var errs *multierror.Error

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), factsFileSuffix) {
			continue
		}

		routerName := strings.TrimSuffix(entry.Name(), factsFileSuffix)
		filePath := filepath.Join(path, entry.Name())

		rf, err := l.LoadFile(filePath, routerName)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		result[routerName] = rf
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	l.logger.Debug("loaded raw facts", "router_count", len(result), "dir", path)
	return result, nil
}

// LoadFile parses a single router's facts file.
func (l *Loader) LoadFile(filePath, routerName string) (model.RouterFacts, error) {
	if !model.IsValidRouterName(routerName) {
		return model.RouterFacts{}, fmt.Errorf("%w: router name %q is not DNS-label shaped", model.ErrFactsMalformed, routerName)
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return model.RouterFacts{}, fmt.Errorf("%w: read %q: %v", model.ErrFactsIO, filePath, err)
	}

	sections, err := parseSections(string(raw))
	if err != nil {
		return model.RouterFacts{}, fmt.Errorf("%s: %w", filePath, err)
	}

	for _, want := range requiredSections {
		if _, ok := sections[want]; !ok {
			return model.RouterFacts{}, fmt.Errorf("%w: %q missing required section %q", model.ErrFactsMalformed, filePath, want)
		}
	}

	rf := model.RouterFacts{
		Name:     routerName,
		Sections: sections,
	}
	if sec, ok := sections[model.SectionMetadata]; ok {
		rf.Metadata = parseMetadata(sec.Payload)
	}
	return rf, nil
}

// Interfaces parses the declared interfaces out of rf's "interfaces"
// section. Used by both the Fabric Builder (subnet discovery, §4.2 step 4)
// and verification (§4.2 verify).
func Interfaces(rf model.RouterFacts) ([]model.Interface, error) {
	sec, ok := rf.Sections[model.SectionInterfaces]
	if !ok {
		return nil, fmt.Errorf("%w: router %q has no interfaces section", model.ErrFactsMalformed, rf.Name)
	}
	return parseInterfaces(sec.Payload)
}

// RoutingTableAliases returns the sorted list of named routing-table
// aliases present in rf (sections "routing_table_<alias>"), excluding the
// mandatory unnamed "routing_table".
func RoutingTableAliases(rf model.RouterFacts) []string {
	var aliases []string
	prefix := model.SectionRoutingTable + "_"
	for name := range rf.Sections {
		if strings.HasPrefix(name, prefix) {
			aliases = append(aliases, strings.TrimPrefix(name, prefix))
		}
	}
	sort.Strings(aliases)
	return aliases
}
