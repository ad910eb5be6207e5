// Command participant runs a single 3PC participant node: an operator
// console over stdin/stdout driving the vote/ack/crash commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"threepc/internal/audit"
	"threepc/internal/config"
	"threepc/internal/health"
	"threepc/internal/participant"
	"threepc/internal/xlog"
)

func main() {
	id := flag.String("id", "", "participant id (required)")
	port := flag.Int("port", 6000, "listening port")
	coordinatorPort := flag.Int("coordinator-port", 5000, "coordinator port")
	configPath := flag.String("config", "", "optional .properties config file")
	auditDSN := flag.String("audit-dsn", "", "optional audit sink DSN (postgres:// or mongodb://)")
	auditKind := flag.String("audit-kind", "", "audit sink kind: postgres | mongo")
	healthPort := flag.Int("health-port", 0, "optional embedded gRPC health server port (0 disables)")
	failureRate := flag.Float64("fail-rate", 0, "initial injected failure rate in [0,1]")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "participant: -id is required")
		os.Exit(1)
	}
	if *port <= 0 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "participant: invalid port %d\n", *port)
		os.Exit(1)
	}
	if *coordinatorPort <= 0 || *coordinatorPort > 65535 {
		fmt.Fprintf(os.Stderr, "participant: invalid coordinator port %d\n", *coordinatorPort)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, config.Node{
		AuditDSN:    *auditDSN,
		AuditKind:   *auditKind,
		HealthPort:  *healthPort,
		FailureRate: *failureRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "participant: loading config: %v\n", err)
		os.Exit(1)
	}

	coordAddr := fmt.Sprintf("localhost:%d", *coordinatorPort)
	n := participant.NewNode(*id, "localhost", *port, coordAddr)
	n.SetFailureRate(cfg.FailureRate)

	if cfg.AuditDSN != "" {
		sink, err := buildAuditSink(cfg)
		if err != nil {
			xlog.Warnf("audit sink disabled: %v", err)
		} else {
			n.WithAudit(sink)
		}
	}

	if cfg.HealthPort != 0 {
		h, err := health.Start(cfg.HealthPort)
		if err != nil {
			xlog.Warnf("health server disabled: %v", err)
		} else {
			n.WithHealth(h)
		}
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "participant: listen on port %d: %v\n", *port, err)
		os.Exit(1)
	}
	defer n.Stop()

	participant.RunCLI(n, os.Stdin, os.Stdout)
}

func buildAuditSink(cfg config.Node) (audit.Sink, error) {
	ctx := context.Background()
	switch cfg.AuditKind {
	case "postgres":
		return audit.NewPostgresSink(ctx, cfg.AuditDSN)
	case "mongo":
		return audit.NewMongoSink(ctx, cfg.AuditDSN, "threepc")
	default:
		return nil, fmt.Errorf("unknown audit kind %q", cfg.AuditKind)
	}
}
