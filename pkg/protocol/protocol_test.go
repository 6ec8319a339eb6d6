package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in      string
		want    Environment
		wantErr bool
	}{
		{"", EnvProduction, false},
		{"Production", EnvProduction, false},
		{"prod", EnvProduction, false},
		{" staging ", EnvStaging, false},
		{"sandbox", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnvironment(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEnvironmentHosts(t *testing.T) {
	assert.Equal(t, "https://api.allow2.com", EnvProduction.APIURL())
	assert.Equal(t, "https://service.allow2.com", EnvProduction.ServiceURL())
	assert.Equal(t, "https://staging-api.allow2.com", EnvStaging.APIURL())
	assert.Equal(t, "https://staging-service.allow2.com", EnvStaging.ServiceURL())
}

func TestQRPath_EscapesSegments(t *testing.T) {
	got := QRPath("tok", "abc-123", "Alice's iPad/2")
	assert.Equal(t, "/genqr/tok/abc-123/Alice%27s%20iPad%2F2", got)
}

func TestParseActivity(t *testing.T) {
	a, err := ParseActivity("3")
	require.NoError(t, err)
	assert.Equal(t, ActivityGaming, a)

	a, err = ParseActivity("screentime")
	require.NoError(t, err)
	assert.Equal(t, ActivityScreenTime, a)

	_, err = ParseActivity("0")
	assert.Error(t, err)
	_, err = ParseActivity("homework")
	assert.Error(t, err)

	assert.Equal(t, "Internet", ActivityInternet.String())
	assert.Equal(t, "Activity(42)", Activity(42).String())
}

func TestIsRevocationMessage(t *testing.T) {
	assert.True(t, IsRevocationMessage("Invalid user."))
	assert.True(t, IsRevocationMessage("invalid pairToken"))
	assert.False(t, IsRevocationMessage("Invalid user"))
	assert.False(t, IsRevocationMessage("quota exceeded"))
}
