package participant

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunCLI drives the operator command loop: status, data, cancommit vote
// yes|no, precommit vote yes|no, ack commit|abort, crash, recover, fail,
// quit. It blocks until EOF or a quit command.
func RunCLI(n *Node, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "participant %s ready. commands: status | data | cancommit vote yes|no | precommit vote yes|no | ack commit|abort | crash | recover | fail | quit\n", n.id)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])

		switch cmd {
		case "status":
			cmdStatus(n, out)
		case "data":
			cmdData(n, out)
		case "cancommit":
			cmdVote(n, out, fields, true)
		case "precommit":
			cmdVote(n, out, fields, false)
		case "ack":
			cmdAck(n, out, fields)
		case "crash":
			if n.Crash() {
				fmt.Fprintln(out, "participant crashed")
			} else {
				fmt.Fprintln(out, "participant already crashed")
			}
		case "recover":
			if err := n.Recover(); err != nil {
				fmt.Fprintf(out, "recovery failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "recovery complete")
			}
		case "fail":
			cmdFail(n, out, fields)
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
}

func cmdStatus(n *Node, out io.Writer) {
	if n.Crashed() {
		fmt.Fprintln(out, "participant: CRASHED")
	} else {
		fmt.Fprintln(out, "participant: RUNNING")
	}
	n.mu.Lock()
	pv := n.pendingVote
	pd := n.pendingDecision
	rate := n.failureRate
	n.mu.Unlock()
	if pv != nil {
		fmt.Fprintf(out, "pending vote: %s phase=%s\n", pv.TransactionID, pv.Phase)
	} else {
		fmt.Fprintln(out, "pending vote: none")
	}
	if pd != nil {
		fmt.Fprintf(out, "pending decision: %s kind=%s\n", pd.TransactionID, pd.Kind)
	} else {
		fmt.Fprintln(out, "pending decision: none")
	}
	fmt.Fprintf(out, "failure rate: %.2f\n", rate)
}

func cmdData(n *Node, out io.Writer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(out, "waited: %v\n", keysOf(n.state.waited))
	fmt.Fprintf(out, "prepared: %v\n", keysOf(n.state.prepared))
	fmt.Fprintf(out, "aborted: %v\n", keysOf(n.state.aborted))
	for txID, data := range n.state.committed {
		fmt.Fprintf(out, "committed: %s -> %v\n", txID, data)
	}
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func cmdVote(n *Node, out io.Writer, fields []string, canCommit bool) {
	if len(fields) < 3 || strings.ToLower(fields[1]) != "vote" {
		fmt.Fprintln(out, "usage: cancommit|precommit vote yes|no")
		return
	}
	yes, err := parseYesNo(fields[2])
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	var txID string
	var ok bool
	if canCommit {
		txID, ok = n.VoteCanCommit(yes)
	} else {
		txID, ok = n.VotePreCommit(yes)
	}
	if !ok {
		fmt.Fprintln(out, "no matching pending vote")
		return
	}
	fmt.Fprintf(out, "transaction %s voted\n", txID)
}

func cmdAck(n *Node, out io.Writer, fields []string) {
	if len(fields) < 2 {
		fmt.Fprintln(out, "usage: ack commit|abort")
		return
	}
	var txID string
	var ok bool
	switch strings.ToLower(fields[1]) {
	case "commit":
		txID, ok = n.AckCommit()
	case "abort":
		txID, ok = n.AckAbort()
	default:
		fmt.Fprintln(out, "usage: ack commit|abort")
		return
	}
	if !ok {
		fmt.Fprintln(out, "no matching pending decision")
		return
	}
	fmt.Fprintf(out, "transaction %s acked\n", txID)
}

func cmdFail(n *Node, out io.Writer, fields []string) {
	if len(fields) < 2 {
		fmt.Fprintln(out, "usage: fail <rate in [0,1]>")
		return
	}
	rate, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || rate < 0 || rate > 1 {
		fmt.Fprintln(out, "rate must be a float in [0,1]")
		return
	}
	n.SetFailureRate(rate)
	fmt.Fprintf(out, "failure rate set to %.2f\n", rate)
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected yes or no, got %q", s)
	}
}
