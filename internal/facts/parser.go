// Package facts parses block-delimited per-router raw-facts dumps into
// model.RouterFacts (C1). Parsing is line-oriented and tolerant of embedded
// newlines in a section's payload, per the raw-facts file format.
package facts

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/ksparavec/reachsim/internal/model"
)

const (
	sectionStartPrefix = "=== TSIM_SECTION_START:"
	sectionEndPrefix   = "=== TSIM_SECTION_END:"
	sectionSuffix      = " ==="
	payloadMarker      = "---"
	exitCodePrefix     = "EXIT_CODE:"
	titlePrefix        = "TITLE:"
	commandPrefix      = "COMMAND:"
	timestampPrefix    = "TIMESTAMP:"
)

// parseSections reads the raw text of one router's facts file and returns
// its sections keyed by name. Malformed input (mismatched START/END,
// missing payload marker) yields model.ErrFactsMalformed.
func parseSections(raw string) (map[string]model.Section, error) {
	sections := make(map[string]model.Section)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		name, ok := sectionName(line, sectionStartPrefix)
		if !ok {
			continue
		}

		sec, err := parseOneSection(scanner, name)
		if err != nil {
			return nil, err
		}
		sections[name] = sec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFactsIO, err)
	}

	return sections, nil
}

// parseOneSection consumes lines from scanner starting immediately after a
// START marker for name, through its matching END marker.
func parseOneSection(scanner *bufio.Scanner, name string) (model.Section, error) {
	sec := model.Section{Name: name}

	var inPayload bool
	var payload strings.Builder
	sawPayloadMarker := false
	sawEnd := false

	for scanner.Scan() {
		line := scanner.Text()

		if !inPayload {
			switch {
			case strings.HasPrefix(line, titlePrefix):
				sec.Title = strings.TrimSpace(strings.TrimPrefix(line, titlePrefix))
				continue
			case strings.HasPrefix(line, commandPrefix):
				sec.Command = strings.TrimSpace(strings.TrimPrefix(line, commandPrefix))
				continue
			case strings.HasPrefix(line, timestampPrefix):
				sec.Timestamp = strings.TrimSpace(strings.TrimPrefix(line, timestampPrefix))
				continue
			case strings.TrimSpace(line) == payloadMarker:
				inPayload = true
				sawPayloadMarker = true
				continue
			}
			if endName, ok := sectionName(line, sectionEndPrefix); ok {
				if endName != name {
					return sec, fmt.Errorf("%w: section %q ended by %q", model.ErrFactsMalformed, name, endName)
				}
				sawEnd = true
			}
			if sawEnd {
				break
			}
			continue
		}

		if strings.HasPrefix(line, exitCodePrefix) {
			code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, exitCodePrefix)))
			if err != nil {
				return sec, fmt.Errorf("%w: section %q has non-integer EXIT_CODE: %v", model.ErrFactsMalformed, name, err)
			}
			sec.ExitCode = code
			continue
		}
		if endName, ok := sectionName(line, sectionEndPrefix); ok {
			if endName != name {
				return sec, fmt.Errorf("%w: section %q ended by %q", model.ErrFactsMalformed, name, endName)
			}
			sawEnd = true
			break
		}

		if payload.Len() > 0 {
			payload.WriteByte('\n')
		}
		payload.WriteString(line)
	}

	if !sawEnd {
		return sec, fmt.Errorf("%w: section %q missing END marker", model.ErrFactsMalformed, name)
	}
	if !sawPayloadMarker {
		return sec, fmt.Errorf("%w: section %q missing payload marker %q", model.ErrFactsMalformed, name, payloadMarker)
	}

	sec.Payload = payload.String()
	return sec, nil
}

// sectionName extracts the <name> from a "=== TSIM_SECTION_{START,END}:<name> ==="
// line carrying the given prefix, if line matches that shape.
func sectionName(line, prefix string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, prefix) || !strings.HasSuffix(trimmed, sectionSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(trimmed, prefix), sectionSuffix)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	return name, true
}
