package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() *Run {
	return &Run{
		ID: "run_1",
		Contact: map[string]interface{}{
			"first_name": "Ada",
			"email":      "ada@example.com",
			"score":      float64(42),
			"address": map[string]interface{}{
				"city": "London",
			},
		},
		Variables: map[string]interface{}{
			"greeting": "Hello",
		},
		StepOutputs: map[string]json.RawMessage{
			"2": json.RawMessage(`{"status_code":200,"body":"ok"}`),
		},
	}
}

func TestResolveContactFields(t *testing.T) {
	r := NewResolver(testRun(), nil)

	out, err := r.Resolve("Hi {{contact.first_name}}, your city is {{contact.address.city}}")
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your city is London", out)
}

func TestResolveNumbersWithoutTrailingDecimal(t *testing.T) {
	r := NewResolver(testRun(), nil)

	out, err := r.Resolve("score={{contact.score}}")
	require.NoError(t, err)
	assert.Equal(t, "score=42", out)
}

func TestResolveStepOutput(t *testing.T) {
	r := NewResolver(testRun(), nil)

	out, err := r.Resolve("previous status: {{step_2.status_code}}")
	require.NoError(t, err)
	assert.Equal(t, "previous status: 200", out)
}

func TestResolveForwardStepReferenceIsError(t *testing.T) {
	r := NewResolver(testRun(), nil)

	_, err := r.Resolve("{{step_9.result}}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not executed")
}

func TestResolveVariables(t *testing.T) {
	r := NewResolver(testRun(), nil)

	out, err := r.Resolve("{{var.greeting}} world")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)
}

func TestResolveGlobalFallback(t *testing.T) {
	globals := map[string]interface{}{"company": "Acme"}
	r := NewResolver(testRun(), func(name string) (interface{}, bool, error) {
		v, ok := globals[name]
		return v, ok, nil
	})

	out, err := r.Resolve("from {{var.company}}")
	require.NoError(t, err)
	assert.Equal(t, "from Acme", out)

	// Run-scoped variables shadow globals
	globals["greeting"] = "Bonjour"
	out, err = r.Resolve("{{var.greeting}}")
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestResolveUnknownReferenceIsError(t *testing.T) {
	r := NewResolver(testRun(), nil)

	_, err := r.Resolve("{{contact.nope}}")
	require.Error(t, err)

	_, err = r.Resolve("{{var.nope}}")
	require.Error(t, err)

	_, err = r.Resolve("{{bogus.thing}}")
	require.Error(t, err)
}

func TestResolveDataWalksNestedConfig(t *testing.T) {
	r := NewResolver(testRun(), nil)

	data := map[string]interface{}{
		"url": "https://api.example.com/users/{{contact.email}}",
		"headers": map[string]interface{}{
			"X-Greeting": "{{var.greeting}}",
		},
		"tags":    []interface{}{"{{contact.first_name}}", "static"},
		"timeout": float64(30),
	}

	resolved, err := r.ResolveData(data)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/ada@example.com", resolved["url"])
	assert.Equal(t, "Hello", resolved["headers"].(map[string]interface{})["X-Greeting"])
	assert.Equal(t, "Ada", resolved["tags"].([]interface{})[0])
	assert.Equal(t, float64(30), resolved["timeout"])
}

func TestResolveTextWithoutTemplatesIsUntouched(t *testing.T) {
	r := NewResolver(testRun(), nil)

	out, err := r.Resolve("plain text, no references")
	require.NoError(t, err)
	assert.Equal(t, "plain text, no references", out)
}
