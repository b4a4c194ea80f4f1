package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	cases := []struct {
		raw    string
		want   Environment
		wantOK bool
	}{
		{"production", Production, true},
		{" Testing ", Testing, true},
		{"DEVELOPMENT", Development, true},
		{"staging", Development, false},
		{"", Development, false},
	}
	for _, c := range cases {
		got, ok := ParseEnvironment(c.raw)
		assert.Equal(t, c.want, got, c.raw)
		assert.Equal(t, c.wantOK, ok, c.raw)
	}
}

func TestEnv_DefaultsToDevelopmentWhenUnset(t *testing.T) {
	t.Setenv("FLEET_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, Development, Env())
	assert.True(t, IsDevelopment())
	assert.True(t, IsDevelopmentOrTesting())
}

func TestEnv_PrefersFleetEnvOverLegacy(t *testing.T) {
	t.Setenv("FLEET_ENV", "production")
	t.Setenv("ENVIRONMENT", "testing")
	assert.Equal(t, Production, Env())
	assert.True(t, IsProduction())
}

func TestEnv_FallsBackToLegacyEnvironment(t *testing.T) {
	t.Setenv("FLEET_ENV", "")
	t.Setenv("ENVIRONMENT", "testing")
	assert.Equal(t, Testing, Env())
	assert.True(t, IsTesting())
}
