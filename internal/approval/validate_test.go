package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/itsm-engine/internal/domain"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

func TestValidate(t *testing.T) {
	valid := func() *domain.ApprovalChainDefinition {
		return changeDefinition(
			level(1, domain.ApprovalTypeAny, domain.RejectActionReturn, "a", "b"),
			level(2, domain.ApprovalTypeMajority, domain.RejectActionEnd, "c", "d", "e"),
		)
	}
	assert.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(d *domain.ApprovalChainDefinition)
	}{
		{"gap in levels", func(d *domain.ApprovalChainDefinition) { d.Levels[1].Level = 3 }},
		{"no levels", func(d *domain.ApprovalChainDefinition) { d.Levels = nil }},
		{"empty approvers", func(d *domain.ApprovalChainDefinition) { d.Levels[0].Approvers = nil }},
		{"duplicate approver", func(d *domain.ApprovalChainDefinition) { d.Levels[1].Approvers = []string{"c", "c"} }},
		{"unknown approval type", func(d *domain.ApprovalChainDefinition) { d.Levels[0].ApprovalType = "QUORUM" }},
		{"unknown reject action", func(d *domain.ApprovalChainDefinition) { d.Levels[0].RejectAction = "ESCALATE" }},
		{"incident has no pending status", func(d *domain.ApprovalChainDefinition) { d.TicketType = domain.TicketTypeIncident }},
		{"success not reachable", func(d *domain.ApprovalChainDefinition) { d.SuccessStatus = domain.TicketStatusCompleted }},
		{"return required at level 1", func(d *domain.ApprovalChainDefinition) { d.ReturnStatus = "" }},
		{"missing id", func(d *domain.ApprovalChainDefinition) { d.ID = " " }},
		{"negative timeout", func(d *domain.ApprovalChainDefinition) {
			d.Levels[0].TimeoutHours, d.Levels[0].TimeoutAction = -1, domain.TimeoutAutoApprove
		}},
		{"timeout action without timeout", func(d *domain.ApprovalChainDefinition) { d.Levels[0].TimeoutAction = domain.TimeoutAutoReject }},
		{"unknown timeout action", func(d *domain.ApprovalChainDefinition) {
			d.Levels[0].TimeoutHours, d.Levels[0].TimeoutAction = 4, "page_oncall"
		}},
		{"timeout escalation without target", func(d *domain.ApprovalChainDefinition) {
			d.Levels[0].TimeoutHours, d.Levels[0].TimeoutAction = 4, domain.TimeoutEscalate
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(def)
			assert.True(t, apperrors.HasCode(Validate(def), apperrors.CodeConfigurationError))
		})
	}
}

func TestValidate_ServiceRequestChain(t *testing.T) {
	def := &domain.ApprovalChainDefinition{
		ID:            "sr-manager",
		TicketType:    domain.TicketTypeServiceRequest,
		PendingStatus: domain.TicketStatusPending,
		SuccessStatus: domain.TicketStatusApproved,
		FailureStatus: domain.TicketStatusRejected,
		ReturnStatus:  domain.TicketStatusSubmitted,
		Levels:        []domain.ApprovalLevel{level(1, domain.ApprovalTypeAny, domain.RejectActionReturn, "mgr")},
	}
	assert.NoError(t, Validate(def))
}
