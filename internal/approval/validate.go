package approval

import (
	"strings"

	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/lifecycle"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// Validate checks a chain definition. A definition that fails validation blocks every decision
// on chains built from it.
func Validate(def *domain.ApprovalChainDefinition) error {
	if def == nil {
		return apperrors.NewConfigurationError("chain definition missing", nil)
	}
	base := map[string]any{"definition_id": def.ID}
	if strings.TrimSpace(def.ID) == "" {
		return apperrors.NewConfigurationError("chain definition id required", base)
	}

	table, ok := lifecycle.TableFor(def.TicketType)
	if !ok {
		return apperrors.NewConfigurationError("unknown ticket type", with(base, "ticket_type", def.TicketType))
	}
	if !table.IsLegal(def.PendingStatus) {
		return apperrors.NewConfigurationError("pending status not legal for ticket type", with(base, "pending_status", def.PendingStatus))
	}
	if !table.Allows(def.PendingStatus, def.SuccessStatus) {
		return apperrors.NewConfigurationError("success status not reachable from pending status", with(base, "success_status", def.SuccessStatus))
	}
	if !table.Allows(def.PendingStatus, def.FailureStatus) {
		return apperrors.NewConfigurationError("failure status not reachable from pending status", with(base, "failure_status", def.FailureStatus))
	}
	if def.ReturnStatus != "" && !table.Allows(def.PendingStatus, def.ReturnStatus) {
		return apperrors.NewConfigurationError("return status not reachable from pending status", with(base, "return_status", def.ReturnStatus))
	}

	if len(def.Levels) == 0 {
		return apperrors.NewConfigurationError("chain has no levels", base)
	}
	for i, lvl := range def.Levels {
		details := with(base, "level", lvl.Level)
		if lvl.Level != i+1 {
			return apperrors.NewConfigurationError("levels must be contiguous from 1", with(details, "expected", i+1))
		}
		if len(lvl.Approvers) == 0 {
			return apperrors.NewConfigurationError("level has no approvers", details)
		}
		seen := make(map[string]struct{}, len(lvl.Approvers))
		for _, approver := range lvl.Approvers {
			if strings.TrimSpace(approver) == "" {
				return apperrors.NewConfigurationError("blank approver id", details)
			}
			if _, dup := seen[approver]; dup {
				return apperrors.NewConfigurationError("duplicate approver", with(details, "approver", approver))
			}
			seen[approver] = struct{}{}
		}
		switch lvl.ApprovalType {
		case domain.ApprovalTypeAny, domain.ApprovalTypeAll, domain.ApprovalTypeMajority:
		default:
			return apperrors.NewConfigurationError("unknown approval type", with(details, "approval_type", lvl.ApprovalType))
		}
		switch lvl.RejectAction {
		case domain.RejectActionEnd, domain.RejectActionCustom:
		case domain.RejectActionReturn:
			if lvl.Level == 1 && def.ReturnStatus == "" {
				return apperrors.NewConfigurationError("return at level 1 requires a return status", details)
			}
		default:
			return apperrors.NewConfigurationError("unknown reject action", with(details, "reject_action", lvl.RejectAction))
		}
		if err := validateTimeout(lvl, details); err != nil {
			return err
		}
	}
	return nil
}

func validateTimeout(lvl domain.ApprovalLevel, details map[string]any) error {
	if lvl.TimeoutHours < 0 {
		return apperrors.NewConfigurationError("timeout must not be negative", details)
	}
	if lvl.TimeoutHours == 0 {
		if lvl.TimeoutAction != "" {
			return apperrors.NewConfigurationError("timeout action without timeout", details)
		}
		return nil
	}
	switch lvl.TimeoutAction {
	case domain.TimeoutAutoApprove, domain.TimeoutAutoReject:
	case domain.TimeoutEscalate:
		if strings.TrimSpace(lvl.TimeoutEscalateTo) == "" {
			return apperrors.NewConfigurationError("timeout escalation needs a target", details)
		}
	default:
		return apperrors.NewConfigurationError("unknown timeout action", with(details, "timeout_action", lvl.TimeoutAction))
	}
	return nil
}

func with(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
