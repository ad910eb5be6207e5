package scenario

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/go-ycsb/pkg/generator"

	"threepc/internal/coordinator"
	"threepc/internal/participant"
)

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(r *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

// Run wires up an in-process coordinator and cfg.NumParticipants
// participants over real TCP connections (registration and vote/ack
// traffic both travel the real wire protocol), scripts each participant's
// vote/ack behavior per cfg, and fires cfg.NumTransactions generated
// transactions at the coordinator, tallying outcomes.
func Run(cfg Config) (ScenarioResult, error) {
	coordAddr := fmt.Sprintf("localhost:%d", cfg.CoordinatorPort)
	coord := coordinator.NewNode(coordAddr)
	if err := coord.Start(); err != nil {
		return ScenarioResult{}, fmt.Errorf("scenario: start coordinator: %w", err)
	}
	defer coord.Stop()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < cfg.NumParticipants; i++ {
		id := "sp" + strconv.Itoa(i)
		p := participant.NewNode(id, "localhost", cfg.BasePort+i, coordAddr)
		p.SetFailureRate(cfg.FailureRate)
		if err := p.Start(); err != nil {
			return ScenarioResult{}, fmt.Errorf("scenario: start participant %s: %w", id, err)
		}
		defer p.Stop()

		wg.Add(1)
		go autoRespond(p, cfg, stop, &wg)
	}

	// Each participant's Start has already exchanged REGISTER with the
	// coordinator and waited for its OK reply; pause briefly before the
	// first transaction starts.
	time.Sleep(100 * time.Millisecond)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	zip := generator.NewZipfianWithRange(0, cfg.KeySpace-1, cfg.Skew)

	result := ScenarioResult{}
	start := time.Now()
	for i := 0; i < cfg.NumTransactions; i++ {
		key := strconv.FormatUint(zip.Next(r), 10)
		data := map[string]string{"key": key, "value": randSeq(r, 8)}
		result.Attempted++
		if coord.ExecuteTransaction(data) {
			result.Committed++
		} else {
			result.Aborted++
		}
	}
	result.Elapsed = time.Since(start)

	close(stop)
	wg.Wait()
	return result, nil
}

// autoRespond polls the participant's pending vote/decision slots
// opportunistically: VoteCanCommit/VotePreCommit/AckCommit/AckAbort are
// all no-ops when nothing matching is currently parked, so a tight poll
// loop scripts behavior without any participant-package exports beyond
// the existing operator actions.
func autoRespond(p *participant.Node, cfg Config, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			yes := r.Float64() < cfg.VoteYesProbability
			p.VoteCanCommit(yes)
			p.VotePreCommit(yes)
			switch kind, ok := p.PendingDecisionKind(); {
			case !ok:
			case kind == "abort":
				p.AckAbort()
			case kind == "commit" && r.Float64() < cfg.AckCommitProbability:
				p.AckCommit()
			}
		}
	}
}
