package bitrix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskParams_SensitiveKeysHidden(t *testing.T) {
	note := strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10)
	params := map[string]any{
		"auth": "secret123456",
		"note": note,
	}

	masked := MaskParams(params)

	assert.Equal(t, "***", masked["auth"])
	assert.Equal(t, note[:10]+"..."+note[len(note)-10:], masked["note"])
}

func TestMaskParams_KeyMatchIsSubstringAndCaseInsensitive(t *testing.T) {
	masked := MaskParams(map[string]any{
		"ACCESS_TOKEN": "abcdef",
		"UserPassword": "hunter2",
		"webhook_key":  "xyz",
		"title":        "short",
	})

	assert.Equal(t, "***", masked["ACCESS_TOKEN"])
	assert.Equal(t, "***", masked["UserPassword"])
	assert.Equal(t, "***", masked["webhook_key"])
	assert.Equal(t, "short", masked["title"])
}

func TestMaskParams_Nested(t *testing.T) {
	params := map[string]any{
		"fields": map[string]any{
			"TITLE": "deal",
			"auth":  "tok123",
			"PHONE": []any{
				map[string]any{"VALUE": "+7 900 000 00 00", "VALUE_TYPE": "WORK"},
			},
		},
	}

	masked := MaskParams(params)

	fields, ok := masked["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "***", fields["auth"])
	assert.Equal(t, "deal", fields["TITLE"])

	phones, ok := fields["PHONE"].([]any)
	require.True(t, ok)
	phone, ok := phones[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "+7 900 000 00 00", phone["VALUE"])
}

func TestMaskParams_DoesNotMutateInput(t *testing.T) {
	params := map[string]any{
		"auth":   "secret",
		"nested": map[string]any{"token": "inner"},
	}

	_ = MaskParams(params)

	assert.Equal(t, "secret", params["auth"])
	assert.Equal(t, "inner", params["nested"].(map[string]any)["token"])
}

func TestMaskParams_ShortStringsUnchanged(t *testing.T) {
	masked := MaskParams(map[string]any{"comment": "twenty chars exactly"})
	assert.Equal(t, "twenty chars exactly", masked["comment"])
}
