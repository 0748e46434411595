package bitrix

import "strings"

// sensitiveKeys lists parameter-name fragments whose values are hidden
// wholesale in logged copies of request parameters.
var sensitiveKeys = []string{"auth", "token", "password", "secret", "key", "access_token"}

const maskedValue = "***"

// MaskParams returns a deep copy of params safe for logging: values
// under sensitive keys are replaced with "***" and long string values
// are truncated to their first and last ten characters. The input is
// never mutated.
func MaskParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	return maskMap(params)
}

func maskMap(m map[string]any) map[string]any {
	masked := make(map[string]any, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			masked[key] = maskedValue
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			masked[key] = maskMap(v)
		case []any:
			masked[key] = maskSlice(v)
		case string:
			if len(v) > 20 {
				masked[key] = v[:10] + "..." + v[len(v)-10:]
			} else {
				masked[key] = v
			}
		default:
			masked[key] = value
		}
	}
	return masked
}

func maskSlice(items []any) []any {
	masked := make([]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case map[string]any:
			masked[i] = maskMap(v)
		case []any:
			masked[i] = maskSlice(v)
		case string:
			if len(v) > 20 {
				masked[i] = v[:10] + "..." + v[len(v)-10:]
			} else {
				masked[i] = v
			}
		default:
			masked[i] = item
		}
	}
	return masked
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
