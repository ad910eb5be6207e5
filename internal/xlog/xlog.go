// Package xlog is the logging helper shared by the coordinator and
// participant nodes: a few debug-gated channels instead of one
// undifferentiated logger, so a node can be run quiet or chatty without
// code changes.
package xlog

import (
	"log"
	"os"
	"time"
)

// Channel gates are package vars, not flags: toggled once at process start,
// read everywhere.
var (
	ShowProtocol  = true  // per-message send/receive/decision narration
	ShowRecovery  = true  // crash/recover lifecycle
	ShowWarnings  = true  // non-fatal errors (dropped connections, timeouts)
	ShowDebugInfo = false // everything else
)

var std = log.New(os.Stderr, "", 0)

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

// Protocolf logs a protocol-level event (message sent/received, vote tallied,
// phase transition) when ShowProtocol is enabled.
func Protocolf(format string, a ...interface{}) {
	if ShowProtocol {
		std.Printf(stamp()+" [protocol] "+format, a...)
	}
}

// Recoveryf logs crash/recovery lifecycle events.
func Recoveryf(format string, a ...interface{}) {
	if ShowRecovery {
		std.Printf(stamp()+" [recover]  "+format, a...)
	}
}

// Warnf logs a recoverable error confined to one connection or driver run.
func Warnf(format string, a ...interface{}) {
	if ShowWarnings {
		std.Printf(stamp()+" [warn]     "+format, a...)
	}
}

// Debugf logs verbose detail gated behind ShowDebugInfo.
func Debugf(format string, a ...interface{}) {
	if ShowDebugInfo {
		std.Printf(stamp()+" [debug]    "+format, a...)
	}
}
