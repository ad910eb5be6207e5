// Package config loads optional node settings from a .properties file,
// layered on top of flag-provided values: a key present in the file
// replaces the value the corresponding flag supplied.
package config

import (
	"os"

	"github.com/magiconair/properties"
)

// Node carries the optional ambient settings layered on top of the required
// process arguments. Every field defaults to disabled/zero so a node
// started with no -config file behaves as if config didn't exist.
type Node struct {
	AuditDSN    string // empty disables the audit sink
	AuditKind   string // "postgres" | "mongo" | "" (disabled)
	HealthPort  int    // 0 disables the embedded gRPC health server
	FailureRate float64
}

// Load reads path as a .properties file if it exists; a missing file is not
// an error (config is always optional). Values are layered onto a Node
// pre-populated with the supplied defaults.
func Load(path string, defaults Node) (Node, error) {
	n := defaults
	if path == "" {
		return n, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return n, nil
	}
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return n, err
	}
	n.AuditDSN = p.GetString("audit.dsn", n.AuditDSN)
	n.AuditKind = p.GetString("audit.kind", n.AuditKind)
	n.HealthPort = p.GetInt("health.port", n.HealthPort)
	n.FailureRate = p.GetFloat64("failure.rate", n.FailureRate)
	return n, nil
}
