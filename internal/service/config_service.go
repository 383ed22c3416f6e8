package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/escalation"
	"github.com/spec-kit/itsm-engine/internal/rules"
)

// ConfigService manages chain definitions and rule sets. A definition or rule that fails
// validation never reaches the store.
type ConfigService struct {
	engine
}

// NewConfigService constructs the service.
func NewConfigService(deps Dependencies) *ConfigService {
	return &ConfigService{engine: newEngine(deps)}
}

// ListChainDefinitions returns every stored chain definition.
func (s *ConfigService) ListChainDefinitions(ctx context.Context) ([]domain.ApprovalChainDefinition, error) {
	defs, err := s.store.Repos().ChainDefinitions.List(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	return defs, nil
}

// SaveChainDefinition validates and upserts a chain definition. Running chains keep
// evaluating against the stored copy at decision time.
func (s *ConfigService) SaveChainDefinition(ctx context.Context, def domain.ApprovalChainDefinition) (*domain.ApprovalChainDefinition, error) {
	if err := approval.Validate(&def); err != nil {
		return nil, s.fail("save_chain_definition", "", err)
	}
	now := s.clock()
	repos := s.store.Repos()
	if existing, err := repos.ChainDefinitions.GetByID(ctx, def.ID); err == nil {
		def.CreatedAt = existing.CreatedAt
	} else {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	if err := repos.ChainDefinitions.Upsert(ctx, &def); err != nil {
		return nil, s.fail("save_chain_definition", "", err)
	}
	s.logger.Info("chain definition saved", zap.String("definition_id", def.ID), zap.Int("levels", len(def.Levels)))
	return &def, nil
}

// ListEscalationRules returns rules in declaration order.
func (s *ConfigService) ListEscalationRules(ctx context.Context) ([]domain.EscalationRule, error) {
	list, err := s.store.Repos().EscalationRules.List(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	return list, nil
}

// SaveEscalationRule validates and upserts an escalation rule. New rules are appended to
// the declaration order; updates keep their position.
func (s *ConfigService) SaveEscalationRule(ctx context.Context, rule domain.EscalationRule) (*domain.EscalationRule, error) {
	if err := escalation.ValidateRule(rule); err != nil {
		return nil, s.fail("save_escalation_rule", "", err)
	}
	if err := s.store.Repos().EscalationRules.Upsert(ctx, &rule); err != nil {
		return nil, s.fail("save_escalation_rule", "", err)
	}
	s.logger.Info("escalation rule saved", zap.String("rule_id", rule.ID), zap.Int("position", rule.Position))
	return &rule, nil
}

// ListAutomationRules returns rules in declaration order.
func (s *ConfigService) ListAutomationRules(ctx context.Context) ([]domain.AutomationRule, error) {
	list, err := s.store.Repos().AutomationRules.List(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	return list, nil
}

// SaveAutomationRule validates and upserts an automation rule.
func (s *ConfigService) SaveAutomationRule(ctx context.Context, rule domain.AutomationRule) (*domain.AutomationRule, error) {
	if err := rules.ValidateAutomationRule(rule); err != nil {
		return nil, s.fail("save_automation_rule", "", err)
	}
	if err := s.store.Repos().AutomationRules.Upsert(ctx, &rule); err != nil {
		return nil, s.fail("save_automation_rule", "", err)
	}
	s.logger.Info("automation rule saved", zap.String("rule_id", rule.ID), zap.String("type", string(rule.Type)))
	return &rule, nil
}
