package approval

import "github.com/spec-kit/itsm-engine/internal/domain"

// EffectiveApprovers returns the level's approver set after applying the chain's delegations
// in the order they were made.
func EffectiveApprovers(lvl domain.ApprovalLevel, delegations []domain.Delegation) []string {
	approvers := append([]string(nil), lvl.Approvers...)
	for _, d := range delegations {
		if d.Level != lvl.Level {
			continue
		}
		for i, a := range approvers {
			if a == d.From {
				approvers[i] = d.To
				break
			}
		}
	}
	return approvers
}

// CurrentDecisions indexes the non-superseded decisions of a level by approver.
// Decisions from principals outside approvers are ignored.
func CurrentDecisions(chain *domain.ApprovalChain, level int, approvers []string, records []domain.ApprovalRecord) map[string]domain.Decision {
	members := make(map[string]struct{}, len(approvers))
	for _, a := range approvers {
		members[a] = struct{}{}
	}
	decisions := make(map[string]domain.Decision)
	for _, r := range records {
		if r.ChainID != chain.ID || r.Level != level || r.Superseded(chain) {
			continue
		}
		if _, ok := members[r.Approver]; !ok {
			continue
		}
		if _, seen := decisions[r.Approver]; !seen {
			decisions[r.Approver] = r.Decision
		}
	}
	return decisions
}

// EvaluateLevel resolves a level from its approver set and current-cycle decisions.
func EvaluateLevel(kind domain.ApprovalType, approvers []string, decisions map[string]domain.Decision) domain.LevelOutcome {
	n := len(approvers)
	if n == 0 {
		return domain.LevelPending
	}
	approved, rejected := 0, 0
	for _, a := range approvers {
		switch decisions[a] {
		case domain.DecisionApproved:
			approved++
		case domain.DecisionRejected:
			rejected++
		}
	}

	switch kind {
	case domain.ApprovalTypeAny:
		if approved > 0 {
			return domain.LevelApproved
		}
		if rejected == n {
			return domain.LevelRejected
		}
	case domain.ApprovalTypeAll:
		if rejected > 0 {
			return domain.LevelRejected
		}
		if approved == n {
			return domain.LevelApproved
		}
	case domain.ApprovalTypeMajority:
		// strict majority; ties stay pending
		if approved*2 > n {
			return domain.LevelApproved
		}
		if rejected*2 > n {
			return domain.LevelRejected
		}
	}
	return domain.LevelPending
}
