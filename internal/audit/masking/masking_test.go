package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "fin_****", MaskSecret("fin_abc"))
	assert.Equal(t, "fin_****wxyz", MaskSecret("fin_0123456789wxyz"))
	assert.Equal(t, "****7890", MaskSecret("1234567890"))
}

func TestMaskSensitiveOnlyTouchesCredentialKeys(t *testing.T) {
	out := MaskSensitive(map[string]any{
		"name":      "laptop",
		"keyPrefix": "fin_0123456789wxyz",
		"nested": map[string]any{
			"authToken": "tok_abcdefgh",
			"count":     3,
		},
		"": "dropped",
	})

	assert.Equal(t, "laptop", out["name"])
	assert.Equal(t, "fin_****wxyz", out["keyPrefix"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "tok_****efgh", nested["authToken"])
	assert.Equal(t, 3, nested["count"])
	assert.NotContains(t, out, "")

	assert.Nil(t, MaskSensitive(nil))
}
