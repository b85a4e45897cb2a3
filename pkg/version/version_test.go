package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion_FillsRuntimeFields(t *testing.T) {
	v := GetVersion()
	assert.NotEmpty(t, v.GoVersion)
	assert.NotEmpty(t, v.Compiler)
	assert.Contains(t, v.Platform, "/")
}

func TestInfo_JsonRoundTrip(t *testing.T) {
	v := GetVersion()
	raw := v.Json()
	require.NotNil(t, raw)

	var back Info
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, *v, back)
}
