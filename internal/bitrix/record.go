package bitrix

import "strconv"

// Record is the canonical field mapping shared by every CRM entity the
// bot handles. Classic CRM objects (deals, leads, contacts, companies)
// already arrive with these UPPER_SNAKE field names; records from the
// task sub-API are remapped into the same set before they leave this
// package. Callers never see vendor-native task field names.
type Record map[string]any

// Str returns the value under key rendered as a string, or "" when the
// key is absent or nil. Numeric values are formatted without an
// exponent so IDs survive JSON's float64 decoding.
func (r Record) Str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Float returns the value under key as a float64. Missing, nil or
// non-numeric values yield (0, false).
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Int returns the value under key as an int. Missing or unparseable
// values yield (0, false).
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Has reports whether key is present with a non-nil, non-empty value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

// taskFieldMap translates the camelCase names of the task sub-API into
// the canonical field set.
var taskFieldMap = map[string]string{
	"id":            "ID",
	"title":         "TITLE",
	"status":        "STATUS",
	"deadline":      "DEADLINE",
	"priority":      "PRIORITY",
	"responsibleId": "RESPONSIBLE_ID",
	"createdBy":     "CREATED_BY",
	"createdDate":   "CREATED_DATE",
	"description":   "DESCRIPTION",
	"changedDate":   "CHANGED_DATE",
	"closedDate":    "CLOSED_DATE",
}

// normalizeTask remaps one raw task payload into a canonical Record.
// Missing source fields map to nil values; normalization is total and
// never fails.
func normalizeTask(raw map[string]any) Record {
	rec := make(Record, len(taskFieldMap))
	for src, dst := range taskFieldMap {
		if v, ok := raw[src]; ok {
			rec[dst] = v
		} else {
			rec[dst] = nil
		}
	}
	return rec
}
