package coordinator

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"threepc/internal/xlog"
)

// RunCLI drives the operator command loop: list, tx, crash, recover,
// status, history, quit. It blocks until EOF or a quit command.
func RunCLI(n *Node, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "3pc coordinator ready. commands: list | tx k=v[,k=v...] | crash | recover | status | history | quit")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := strings.ToLower(fields[0])
		var arg string
		if len(fields) == 2 {
			arg = strings.TrimSpace(fields[1])
		}

		switch cmd {
		case "list":
			cmdList(n, out)
		case "tx":
			cmdTx(n, out, arg)
		case "crash":
			if n.Crash() {
				fmt.Fprintln(out, "coordinator crashed")
			} else {
				fmt.Fprintln(out, "coordinator already crashed")
			}
		case "recover":
			n.Recover()
			fmt.Fprintln(out, "recovery complete")
		case "status":
			cmdStatus(n, out)
		case "history":
			cmdHistory(n, out)
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
}

func cmdList(n *Node, out io.Writer) {
	parts := n.ListParticipants()
	if len(parts) == 0 {
		fmt.Fprintln(out, "no registered participants")
		return
	}
	for _, p := range parts {
		fmt.Fprintf(out, "%s %s\n", p.ID, p.Addr())
	}
}

// cmdTx launches the transaction driver on its own goroutine so the command
// loop remains responsive while the 3PC phases run their (potentially
// minutes-long) vote/ack collection.
func cmdTx(n *Node, out io.Writer, arg string) {
	data := make(map[string]string)
	if arg != "" {
		for _, kv := range strings.Split(arg, ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				fmt.Fprintf(out, "ignoring malformed field %q\n", kv)
				continue
			}
			data[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	fmt.Fprintln(out, "transaction started in background")
	go func() {
		if n.ExecuteTransaction(data) {
			xlog.Protocolf("background transaction committed")
		} else {
			xlog.Protocolf("background transaction aborted")
		}
	}()
}

func cmdStatus(n *Node, out io.Writer) {
	txs, ok := n.ListTransactions()
	if !ok {
		fmt.Fprintln(out, "busy, try again")
		return
	}
	if n.Crashed() {
		fmt.Fprintln(out, "coordinator: CRASHED")
	} else {
		fmt.Fprintln(out, "coordinator: RUNNING")
	}
	if len(txs) == 0 {
		fmt.Fprintln(out, "no transactions")
		return
	}
	for _, tx := range txs {
		fmt.Fprintf(out, "%s %s participants=%v\n", tx.ID, tx.Status, tx.Participants)
	}
}

func cmdHistory(n *Node, out io.Writer) {
	hist := n.History()
	if len(hist) == 0 {
		fmt.Fprintln(out, "no history")
		return
	}
	for _, h := range hist {
		fmt.Fprintf(out, "%s %s %v @%d\n", h.TransactionID, h.Status, h.Data, h.Timestamp)
	}
}
