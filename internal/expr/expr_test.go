package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]interface{}

func (m mapResolver) Resolve(path []string) (interface{}, bool) {
	key := path[0]
	for _, p := range path[1:] {
		key += "." + p
	}
	v, ok := m[key]
	return v, ok
}

func evalBool(t *testing.T, src string, env Resolver) bool {
	t.Helper()
	p, err := Parse(src)
	require.NoError(t, err)
	v, err := p.EvalBool(env)
	require.NoError(t, err)
	return v
}

func TestComparisonOperators(t *testing.T) {
	env := mapResolver{"data.speed": 12.0}
	assert.True(t, evalBool(t, "data.speed > 10", env))
	assert.False(t, evalBool(t, "data.speed > 20", env))
	assert.True(t, evalBool(t, "data.speed >= 12 && data.speed <= 12", env))
	assert.True(t, evalBool(t, "data.speed != 5", env))
}

func TestLogicalOperators(t *testing.T) {
	env := mapResolver{"data.ready": true, "data.armed": false}
	assert.True(t, evalBool(t, "data.ready && !data.armed", env))
	assert.True(t, evalBool(t, "data.ready || data.armed", env))
	assert.False(t, evalBool(t, "data.armed && data.ready", env))
}

func TestMissingIdentifierIsNull(t *testing.T) {
	env := mapResolver{}
	assert.False(t, evalBool(t, "data.missing == 5", env))
	assert.False(t, evalBool(t, "data.missing > 0", env))
}

func TestStringComparison(t *testing.T) {
	env := mapResolver{"data.state": "idle"}
	assert.True(t, evalBool(t, `data.state == "idle"`, env))
	assert.False(t, evalBool(t, `data.state == "running"`, env))
}

func TestArithmeticAndTernary(t *testing.T) {
	p, err := Parse(`x + 2 * (y - 1) > 10 ? "big" : "small"`)
	require.NoError(t, err)
	v, err := p.Eval(mapResolver{"x": 5.0, "y": 4.0})
	require.NoError(t, err)
	assert.Equal(t, "big", v)
}

func TestMathNamespace(t *testing.T) {
	p, err := Parse("Math.sqrt(x) + Math.max(a, b, c)")
	require.NoError(t, err)
	v, err := p.Eval(mapResolver{"x": 9.0, "a": 1.0, "b": 5.0, "c": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 8.0, v)
}

func TestRejectsUnknownFunction(t *testing.T) {
	p, err := Parse("process.exit()")
	require.NoError(t, err)
	_, err = p.Eval(mapResolver{})
	assert.Error(t, err)
}

func TestParseError(t *testing.T) {
	_, err := Parse("data.x &&")
	assert.Error(t, err)
}
