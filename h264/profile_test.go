package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileLevelId(t *testing.T) {
	t.Run("constrained baseline 3.1", func(t *testing.T) {
		id := ParseProfileLevelId("42e01f")
		require.NotNil(t, id)
		assert.Equal(t, ProfileConstrainedBaseline, id.Profile)
		assert.Equal(t, Level3_1, id.Level)
	})

	t.Run("high 4.0", func(t *testing.T) {
		id := ParseProfileLevelId("640028")
		require.NotNil(t, id)
		assert.Equal(t, ProfileHigh, id.Profile)
		assert.Equal(t, Level4, id.Level)
	})

	t.Run("level 1b via constraint set 3", func(t *testing.T) {
		id := ParseProfileLevelId("42f00b")
		require.NotNil(t, id)
		assert.Equal(t, ProfileConstrainedBaseline, id.Profile)
		assert.Equal(t, Level1b, id.Level)
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.Nil(t, ParseProfileLevelId(""))
		assert.Nil(t, ParseProfileLevelId("42e0"))
		assert.Nil(t, ParseProfileLevelId("zzzzzz"))
		assert.Nil(t, ParseProfileLevelId("000000"))
	})

	t.Run("default for unsignaled", func(t *testing.T) {
		id := ParseSdpProfileLevelId("")
		require.NotNil(t, id)
		assert.Equal(t, DefaultProfileLevelId, *id)
	})
}

func TestProfileLevelIdString(t *testing.T) {
	assert.Equal(t, "42e01f", ProfileLevelId{Profile: ProfileConstrainedBaseline, Level: Level3_1}.String())
	assert.Equal(t, "640028", ProfileLevelId{Profile: ProfileHigh, Level: Level4}.String())
	assert.Equal(t, "42f00b", ProfileLevelId{Profile: ProfileConstrainedBaseline, Level: Level1b}.String())
}

func TestIsSameProfile(t *testing.T) {
	assert.True(t, IsSameProfile("42e01f", "42e01f"))
	assert.True(t, IsSameProfile("4de01f", "42e01f")) // both constrained baseline
	assert.True(t, IsSameProfile("", "42e01f"))       // default is constrained baseline
	assert.False(t, IsSameProfile("42e01f", "640028"))
	assert.False(t, IsSameProfile("42e01f", "zzzzzz"))
}

func TestGenerateProfileLevelIdForAnswer(t *testing.T) {
	t.Run("empty on both sides", func(t *testing.T) {
		answer, err := GenerateProfileLevelIdForAnswer(Parameters{}, Parameters{})
		require.NoError(t, err)
		assert.Empty(t, answer)
	})

	t.Run("level capped without asymmetry", func(t *testing.T) {
		answer, err := GenerateProfileLevelIdForAnswer(
			Parameters{ProfileLevelId: "42e01f"}, // level 3.1
			Parameters{ProfileLevelId: "42e00b"}, // level 1.1
		)
		require.NoError(t, err)
		assert.Equal(t, "42e00b", answer)
	})

	t.Run("local level kept with asymmetry allowed", func(t *testing.T) {
		answer, err := GenerateProfileLevelIdForAnswer(
			Parameters{ProfileLevelId: "42e01f", LevelAsymmetryAllowed: 1},
			Parameters{ProfileLevelId: "42e00b", LevelAsymmetryAllowed: 1},
		)
		require.NoError(t, err)
		assert.Equal(t, "42e01f", answer)
	})

	t.Run("profile mismatch fails", func(t *testing.T) {
		_, err := GenerateProfileLevelIdForAnswer(
			Parameters{ProfileLevelId: "42e01f"},
			Parameters{ProfileLevelId: "640028"},
		)
		assert.Error(t, err)
	})
}
