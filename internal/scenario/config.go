// Package scenario drives automated end-to-end coordinator/participant
// runs: it wires up an in-process coordinator and N participants, scripts
// each participant's vote/ack behavior, and fires generated transactions
// at the coordinator using a Zipfian key workload.
package scenario

import (
	"os"

	"github.com/magiconair/properties"
)

// Config controls one scenario run. Every field has a zero-value-safe
// default applied by Load so a scenario can be launched with no config file
// at all.
type Config struct {
	NumParticipants int
	NumTransactions int
	CoordinatorPort int
	BasePort        int
	KeySpace        int64
	Skew            float64

	// VoteYesProbability is the chance a participant votes YES at both
	// CANCOMMIT and PRECOMMIT when its pending vote is observed.
	VoteYesProbability float64
	// AckCommitProbability is the chance a participant, once told to
	// commit, actually sends ACK_COMMIT rather than letting the 60s
	// auto-ack timeout fire (simulating a participant that never
	// acknowledges a commit decision). It has no effect on abort
	// decisions, which always ack.
	AckCommitProbability float64
	// FailureRate is applied uniformly to every participant via
	// SetFailureRate.
	FailureRate float64
}

// defaultConfig mirrors a small, fast three-participant run.
func defaultConfig() Config {
	return Config{
		NumParticipants:      3,
		NumTransactions:      10,
		CoordinatorPort:      5100,
		BasePort:             6100,
		KeySpace:             1000,
		Skew:                 0.99,
		VoteYesProbability:   1.0,
		AckCommitProbability: 1.0,
		FailureRate:          0,
	}
}

// Load reads path as a .properties file if it exists, layering values onto
// defaultConfig(); a missing path is not an error, matching internal/config.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return cfg, err
	}
	cfg.NumParticipants = p.GetInt("participants", cfg.NumParticipants)
	cfg.NumTransactions = p.GetInt("transactions", cfg.NumTransactions)
	cfg.CoordinatorPort = p.GetInt("coordinator.port", cfg.CoordinatorPort)
	cfg.BasePort = p.GetInt("base.port", cfg.BasePort)
	cfg.KeySpace = int64(p.GetInt64("keyspace", cfg.KeySpace))
	cfg.Skew = p.GetFloat64("skew", cfg.Skew)
	cfg.VoteYesProbability = p.GetFloat64("vote.yes.probability", cfg.VoteYesProbability)
	cfg.AckCommitProbability = p.GetFloat64("ack.commit.probability", cfg.AckCommitProbability)
	cfg.FailureRate = p.GetFloat64("failure.rate", cfg.FailureRate)
	return cfg, nil
}
