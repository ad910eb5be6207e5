package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllYesCommitsEveryTransaction(t *testing.T) {
	cfg := Config{
		NumParticipants:      3,
		NumTransactions:      3,
		CoordinatorPort:      15100,
		BasePort:             16100,
		KeySpace:             100,
		Skew:                 0.9,
		VoteYesProbability:   1.0,
		AckCommitProbability: 1.0,
	}
	result, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Committed)
	assert.Equal(t, 0, result.Aborted)
}

func TestRunAllNoAbortsEveryTransaction(t *testing.T) {
	cfg := Config{
		NumParticipants:    3,
		NumTransactions:    2,
		CoordinatorPort:    15101,
		BasePort:           16110,
		KeySpace:           100,
		Skew:               0.9,
		VoteYesProbability: 0.0,
	}
	result, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 0, result.Committed)
	assert.Equal(t, 2, result.Aborted)
}

func TestLoadDefaultsWhenPathMissing(t *testing.T) {
	cfg, err := Load("/nonexistent/path/scenario.properties")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}
