package keycodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscompliance/mapping-engine/internal/keycodec"
)

func TestBuildAndParseControlKey_RoundTrip(t *testing.T) {
	fk, err := keycodec.BuildFrameworkKey("NIST-SP-800-53", "R5")
	require.NoError(t, err)

	ck, err := keycodec.BuildControlKey(fk, "AC-1")
	require.NoError(t, err)
	assert.Equal(t, "NIST-SP-800-53#R5#AC-1", ck.String())

	parsed, err := keycodec.ParseControlKey(ck.String())
	require.NoError(t, err)
	assert.Equal(t, ck, parsed)
}

func TestParseControlKey_ControlIDMayContainHash(t *testing.T) {
	parsed, err := keycodec.ParseControlKey("AWS.EC2#1.0#PR.1#extra")
	require.NoError(t, err)
	assert.Equal(t, "PR.1#extra", parsed.ControlID)
}

func TestParseControlKey_Malformed(t *testing.T) {
	cases := []string{
		"",
		"onlyone",
		"fw##ctrl",
		"fw#version#",
		"#version#ctrl",
	}
	for _, c := range cases {
		_, err := keycodec.ParseControlKey(c)
		assert.Error(t, err, "expected malformed key error for %q", c)
		var malformed *keycodec.MalformedKey
		assert.ErrorAs(t, err, &malformed)
	}
}

func TestParseFrameworkKey_Malformed(t *testing.T) {
	_, err := keycodec.ParseFrameworkKey("not-a-key")
	assert.Error(t, err)
}

func TestBuildControlKey_RejectsNewlineAndMappingSeparator(t *testing.T) {
	fk, err := keycodec.BuildFrameworkKey("fw", "v1")
	require.NoError(t, err)

	_, err = keycodec.BuildControlKey(fk, "bad\nid")
	assert.Error(t, err)

	_, err = keycodec.BuildControlKey(fk, "bad|id")
	assert.Error(t, err)
}

func TestBuildControlKey_AllowsHash(t *testing.T) {
	fk, err := keycodec.BuildFrameworkKey("fw", "v1")
	require.NoError(t, err)

	ck, err := keycodec.BuildControlKey(fk, "bad#id")
	require.NoError(t, err)
	assert.Equal(t, "bad#id", ck.ControlID)
}

func TestBuildMappingKey_Commutative(t *testing.T) {
	a := "NIST-SP-800-53#R5#AC-1"
	b := "AWS.EC2#1.0#PR.1"
	assert.Equal(t, keycodec.BuildMappingKey(a, b), keycodec.BuildMappingKey(b, a))
}

func TestBuildMappingKey_TableDriven(t *testing.T) {
	pairs := [][2]string{
		{"a#1#x", "a#1#y"},
		{"z#9#q", "a#1#x"},
		{"same#1#k", "same#1#k"},
	}
	for _, p := range pairs {
		assert.Equal(t, keycodec.BuildMappingKey(p[0], p[1]), keycodec.BuildMappingKey(p[1], p[0]))
	}
}
