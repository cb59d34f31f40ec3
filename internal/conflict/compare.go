// Package conflict implements field-level divergence detection between a
// local and a server version of a record, plus a choice-based merge. All
// functions are pure; persistence and policy live with the caller.
package conflict

import (
	"reflect"
	"sort"
)

// FieldConflict reports one business field whose local and server values
// diverge.
type FieldConflict struct {
	Field       string `json:"field"`
	LocalValue  any    `json:"localValue"`
	ServerValue any    `json:"serverValue"`
}

// Comparison is the result of CompareFields.
type Comparison struct {
	HasConflicts bool            `json:"hasConflicts"`
	Conflicts    []FieldConflict `json:"conflicts"`
	Unchanged    []string        `json:"unchanged"`
}

// metadataKeys are identifiers and sync bookkeeping fields excluded from
// comparison. Only business fields are compared.
var metadataKeys = map[string]struct{}{
	"id":            {},
	"offlineId":     {},
	"offline_id":    {},
	"status":        {},
	"syncStatus":    {},
	"sync_status":   {},
	"retries":       {},
	"version":       {},
	"createdAt":     {},
	"created_at":    {},
	"updatedAt":     {},
	"updated_at":    {},
	"cachedAt":      {},
	"cached_at":     {},
	"lastAttemptAt": {},
}

func isMetadataKey(key string) bool {
	_, ok := metadataKeys[key]
	return ok
}

// CompareFields diffs the local record against the server's version.
//
// A nil or empty local record against a non-empty server record is a total
// conflict: every server business field is reported as conflicting.
// Comparison is shallow per field: when a field's value is itself an object
// (e.g. a coordinate pair) the whole field counts as one conflict if any
// nested value differs; it is not decomposed into sub-fields.
func CompareFields(local, server map[string]any) Comparison {
	result := Comparison{Conflicts: []FieldConflict{}, Unchanged: []string{}}

	if len(local) == 0 {
		for _, field := range sortedBusinessFields(server) {
			result.Conflicts = append(result.Conflicts, FieldConflict{
				Field:       field,
				LocalValue:  nil,
				ServerValue: server[field],
			})
		}
		result.HasConflicts = len(result.Conflicts) > 0
		return result
	}

	for _, field := range sortedBusinessFields(server) {
		serverValue := server[field]
		localValue, present := local[field]

		if present && reflect.DeepEqual(localValue, serverValue) {
			result.Unchanged = append(result.Unchanged, field)
			continue
		}

		result.Conflicts = append(result.Conflicts, FieldConflict{
			Field:       field,
			LocalValue:  localValue,
			ServerValue: serverValue,
		})
	}

	result.HasConflicts = len(result.Conflicts) > 0
	return result
}

// ConflictingFieldNames extracts just the field names of a comparison, in
// the order they were reported.
func ConflictingFieldNames(c Comparison) []string {
	names := make([]string, 0, len(c.Conflicts))
	for _, fc := range c.Conflicts {
		names = append(names, fc.Field)
	}
	return names
}

// MergeFieldChoices produces a merged record from per-field choices.
// Every field starts from the server's value; a field explicitly chosen as
// "local" takes the local value instead. Metadata keys follow the server.
func MergeFieldChoices(local, server map[string]any, choices map[string]string) map[string]any {
	merged := make(map[string]any, len(server))

	for field, serverValue := range server {
		merged[field] = serverValue
	}

	for field, choice := range choices {
		if choice != "local" || isMetadataKey(field) {
			continue
		}
		if localValue, ok := local[field]; ok {
			merged[field] = localValue
		}
	}

	return merged
}

func sortedBusinessFields(record map[string]any) []string {
	fields := make([]string, 0, len(record))
	for field := range record {
		if isMetadataKey(field) {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
