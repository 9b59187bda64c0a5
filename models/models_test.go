package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels([][]string{{"100.5", "2"}, {"101", "0.00000001", "ignored"}})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "100.5", levels[0].Price.String())
	assert.Equal(t, "0.00000001", levels[1].Size.String())
}

func TestParseLevelsRejectsBadRows(t *testing.T) {
	_, err := ParseLevels([][]string{{"100"}})
	assert.Error(t, err)

	_, err = ParseLevels([][]string{{"abc", "1"}})
	assert.Error(t, err)
}

func TestUpserts(t *testing.T) {
	levels, err := ParseLevels([][]string{{"1", "2"}})
	require.NoError(t, err)
	changes := Upserts(Ask, levels, 42)
	require.Len(t, changes, 1)
	assert.Equal(t, Ask, changes[0].Side)
	assert.Equal(t, ActionUpsert, changes[0].Action)
	assert.Equal(t, int64(42), changes[0].Timestamp)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
}
