// Package parser recovers structured registry events from free-text program
// log lines. The on-chain program never emitted a fixed schema, so several
// historical log formats are in circulation at once; parsing is an ordered
// cascade of heuristics, each pure and independently testable.
package parser

import (
	"strings"
	"time"

	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/types"
)

// fieldExtractor attempts to pull a single named field out of a log line.
// Extractors are tried in order; the first hit wins.
type fieldExtractor func(log, field string) (string, bool)

var fieldExtractors = []fieldExtractor{
	extractJSONField,
	extractKVField,
	extractColonField,
	extractStructuredField,
}

// Parse maps a single log line to at most one registry event. It is pure and
// total: a line matching no event marker yields nil. Markers are matched
// case-insensitively in a fixed priority order (publish, update, download,
// then a generic event= marker).
func Parse(log, signature string, slot uint64, blockTime *time.Time) *models.Event {
	lower := strings.ToLower(log)

	type marker struct {
		eventType types.EventType
		patterns  []string
	}
	markers := []marker{
		{types.EventPublished, []string{"packagepublished", "instruction: publish", "program log: publish", "package published:"}},
		{types.EventUpdated, []string{"packageupdated", "instruction: update", "program log: update"}},
		{types.EventDownloaded, []string{"packagedownloaded", "instruction: download", "program log: download"}},
	}

	for _, m := range markers {
		if !containsAny(lower, m.patterns) {
			continue
		}
		name, version, ok := extractPackageInfo(log)
		if !ok {
			continue
		}
		return &models.Event{
			EventType:            m.eventType,
			PackageName:          name,
			Version:              version,
			TransactionSignature: signature,
			Slot:                 slot,
			BlockTime:            blockTime,
		}
	}

	// Generic marker: an explicit event=<type> field
	if eventType, ok := extractField(log, "event"); ok {
		if name, version, ok := extractPackageInfo(log); ok {
			return &models.Event{
				EventType:            types.EventType(eventType),
				PackageName:          name,
				Version:              version,
				TransactionSignature: signature,
				Slot:                 slot,
				BlockTime:            blockTime,
			}
		}
	}

	return nil
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// extractPackageInfo recovers a package name and optional version from a log
// line. The compact name@version form is preferred; otherwise named fields are
// tried (package, name, pkg for the name; version, ver for the version).
// A name without a version is valid.
func extractPackageInfo(log string) (string, *string, bool) {
	if name, version, ok := extractAtFormat(log); ok {
		return name, version, true
	}

	name, ok := extractField(log, "package")
	if !ok {
		name, ok = extractField(log, "name")
	}
	if !ok {
		name, ok = extractField(log, "pkg")
	}
	if !ok {
		return "", nil, false
	}

	if version, ok := extractField(log, "version"); ok {
		return name, &version, true
	}
	if version, ok := extractField(log, "ver"); ok {
		return name, &version, true
	}
	return name, nil, true
}

// extractAtFormat handles lines like "Package published: awesome-math-utils@1.0.0".
// It takes the text after the last colon, strips leading decoration (emoji and
// punctuation), and splits on the first @. Both sides must be non-empty.
func extractAtFormat(log string) (string, *string, bool) {
	colonPos := strings.LastIndex(log, ":")
	if colonPos < 0 {
		return "", nil, false
	}

	afterColon := strings.TrimSpace(log[colonPos+1:])
	cleaned := strings.TrimLeftFunc(afterColon, func(c rune) bool {
		return !isAlphanumeric(c) && c != '-' && c != '_'
	})

	atPos := strings.Index(cleaned, "@")
	if atPos < 0 {
		return "", nil, false
	}

	name := strings.TrimSpace(cleaned[:atPos])
	fields := strings.Fields(cleaned[atPos+1:])
	if name == "" || len(fields) == 0 {
		return "", nil, false
	}

	version := fields[0]
	return name, &version, true
}

// extractField tries each extraction strategy in order and returns the first
// non-empty value.
func extractField(log, field string) (string, bool) {
	for _, extract := range fieldExtractors {
		if value, ok := extract(log, field); ok {
			return value, true
		}
	}
	return "", false
}

// extractJSONField handles "field":"value" and "field": "value".
func extractJSONField(log, field string) (string, bool) {
	for _, pattern := range []string{`"` + field + `":`, `"` + field + `": `} {
		start := strings.Index(log, pattern)
		if start < 0 {
			continue
		}
		after := log[start+len(pattern):]
		open := strings.Index(after, `"`)
		if open < 0 {
			continue
		}
		rest := after[open+1:]
		end := strings.Index(rest, `"`)
		if end < 0 {
			continue
		}
		if value := strings.TrimSpace(rest[:end]); value != "" {
			return value, true
		}
	}
	return "", false
}

// extractKVField handles field=value with optional single or double quoting.
// Unquoted values end at whitespace or one of ,})].
func extractKVField(log, field string) (string, bool) {
	start := strings.Index(log, field+"=")
	if start < 0 {
		return "", false
	}
	after := log[start+len(field)+1:]

	if strings.HasPrefix(after, `"`) || strings.HasPrefix(after, "'") {
		quote := after[:1]
		rest := after[1:]
		end := strings.Index(rest, quote)
		if end < 0 {
			return "", false
		}
		value := strings.TrimSpace(rest[:end])
		return value, value != ""
	}

	end := strings.IndexFunc(after, func(c rune) bool {
		return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' || c == '}' || c == ')' || c == ']'
	})
	var value string
	if end < 0 {
		value = strings.TrimSpace(after)
	} else {
		value = strings.TrimSpace(after[:end])
	}
	return value, value != ""
}

// extractColonField handles "field: value" with optional quoting. Unquoted
// values end at whitespace or a comma.
func extractColonField(log, field string) (string, bool) {
	start := strings.Index(log, field+": ")
	if start < 0 {
		return "", false
	}
	after := log[start+len(field)+2:]

	if strings.HasPrefix(after, `"`) || strings.HasPrefix(after, "'") {
		quote := after[:1]
		rest := after[1:]
		end := strings.Index(rest, quote)
		if end < 0 {
			return "", false
		}
		value := strings.TrimSpace(rest[:end])
		return value, value != ""
	}

	end := strings.IndexFunc(after, func(c rune) bool {
		return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ','
	})
	var value string
	if end < 0 {
		value = strings.TrimSpace(after)
	} else {
		value = strings.TrimSpace(after[:end])
	}
	return value, value != ""
}

// extractStructuredField handles runtime-prefixed lines of the form
// "Program log: <field> <value>" and "Program data: <field> <value>",
// taking the remainder of the line as the value.
func extractStructuredField(log, field string) (string, bool) {
	for _, prefix := range []string{"Program log: ", "Program data: "} {
		pattern := prefix + field + " "
		start := strings.Index(log, pattern)
		if start < 0 {
			continue
		}
		after := log[start+len(pattern):]
		if end := strings.IndexAny(after, "\n\r"); end >= 0 {
			after = after[:end]
		}
		if value := strings.TrimSpace(after); value != "" {
			return value, true
		}
	}
	return "", false
}

const (
	// Content addresses shorter than a CIDv0 are rejected outright
	minContentAddressLen = 46
	maxCIDv0Len          = 60
)

// ExtractContentAddress attempts to find a probable content address (CID) in
// a log line. Keyed forms (ipfs_hash=, ipfs:, cid=) are tried first, then a
// token scan for the CIDv0 "Qm" prefix with a crude length gate. Returns the
// empty string when nothing plausible is found.
func ExtractContentAddress(log string) string {
	lower := strings.ToLower(log)

	for _, key := range []string{"ipfs_hash", "ipfs", "cid"} {
		for _, sep := range []string{"=", ": "} {
			pos := strings.Index(lower, key+sep)
			if pos < 0 {
				continue
			}
			after := log[pos+len(key)+len(sep):]
			end := strings.IndexFunc(after, func(c rune) bool {
				return c == ' ' || c == '\t' || c == ',' || c == '"' || c == '\n'
			})
			if end < 0 {
				end = len(after)
			}
			candidate := strings.Trim(strings.TrimSpace(after[:end]), `"',;]}`)
			if len(candidate) >= minContentAddressLen {
				return candidate
			}
		}
	}

	// Fallback scan for a CIDv0-looking token
	tokens := strings.FieldsFunc(log, func(c rune) bool {
		return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' || c == ';'
	})
	for _, token := range tokens {
		trimmed := strings.Trim(token, `"',;]}`)
		if strings.HasPrefix(trimmed, "Qm") && len(trimmed) >= minContentAddressLen && len(trimmed) <= maxCIDv0Len {
			return trimmed
		}
	}

	return ""
}

func isAlphanumeric(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
