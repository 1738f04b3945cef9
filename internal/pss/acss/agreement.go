package acss

// Agreement decides instance validity from accumulated vote tallies. It is
// pluggable: the default quorum counter can be replaced by a full
// asynchronous binary agreement without touching the runner.
type Agreement interface {
	// Decide returns the terminal state once tallies determine one, and
	// false while the instance must stay pending.
	Decide(ok, reject int) (State, bool)
}

// QuorumAgreement finalizes Valid at n-t ok votes and Invalid at t+1 reject
// votes. t+1 rejects include at least one honest party, and honest parties
// reject only on public evidence, so Invalid is never reached for an honest
// dealer; with at most t Byzantine rejectors, n-t honest ok votes remain
// reachable.
type QuorumAgreement struct {
	OkQuorum     int
	RejectQuorum int
}

func (q QuorumAgreement) Decide(ok, reject int) (State, bool) {
	if reject >= q.RejectQuorum {
		return StateInvalid, true
	}
	if ok >= q.OkQuorum {
		return StateValid, true
	}
	return StatePending, false
}
