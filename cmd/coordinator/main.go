// Command coordinator runs the 3PC coordinator node: an operator console
// over stdin/stdout driving the transaction commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"threepc/internal/audit"
	"threepc/internal/config"
	"threepc/internal/coordinator"
	"threepc/internal/health"
	"threepc/internal/xlog"
)

func main() {
	port := flag.Int("port", 5000, "listening port")
	configPath := flag.String("config", "", "optional .properties config file")
	auditDSN := flag.String("audit-dsn", "", "optional audit sink DSN (postgres:// or mongodb://)")
	auditKind := flag.String("audit-kind", "", "audit sink kind: postgres | mongo")
	healthPort := flag.Int("health-port", 0, "optional embedded gRPC health server port (0 disables)")
	flag.Parse()

	if *port <= 0 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "coordinator: invalid port %d\n", *port)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, config.Node{
		AuditDSN:   *auditDSN,
		AuditKind:  *auditKind,
		HealthPort: *healthPort,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: loading config: %v\n", err)
		os.Exit(1)
	}

	n := coordinator.NewNode(fmt.Sprintf("localhost:%d", *port))

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
		fmt.Fprintf(os.Stderr, "coordinator: listen on port %d: %v\n", *port, err)
		os.Exit(1)
	}
	defer n.Stop()

	coordinator.RunCLI(n, os.Stdin, os.Stdout)
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
