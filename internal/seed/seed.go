// Package seed loads engine configuration (directory, chain definitions, escalation and
// automation rules) from a YAML document and applies it to a store.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/itsm-engine/internal/approval"
	"github.com/spec-kit/itsm-engine/internal/directory"
	"github.com/spec-kit/itsm-engine/internal/domain"
	"github.com/spec-kit/itsm-engine/internal/escalation"
	"github.com/spec-kit/itsm-engine/internal/repository"
	"github.com/spec-kit/itsm-engine/internal/rules"
	apperrors "github.com/spec-kit/itsm-engine/pkg/util/errorutil"
)

// File is the seed document. Escalation time limits use Go duration syntax ("4h", "90m").
type File struct {
	Directory        []directory.Principal            `yaml:"directory"`
	ChainDefinitions []domain.ApprovalChainDefinition `yaml:"chain_definitions"`
	EscalationRules  []domain.EscalationRule          `yaml:"escalation_rules"`
	AutomationRules  []domain.AutomationRule          `yaml:"automation_rules"`
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a seed document and validates every entry. Unknown keys are rejected.
func Parse(raw []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewConfigurationError("invalid seed document", map[string]any{"error": err.Error()})
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the whole document without touching any store.
func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Directory))
	for _, p := range f.Directory {
		if p.ID == "" {
			return apperrors.NewConfigurationError("directory entry without id", nil)
		}
		if _, dup := seen[p.ID]; dup {
			return apperrors.NewConfigurationError("duplicate directory entry", map[string]any{"id": p.ID})
		}
		seen[p.ID] = struct{}{}
	}
	for i := range f.ChainDefinitions {
		if err := approval.Validate(&f.ChainDefinitions[i]); err != nil {
			return err
		}
	}
	for _, rule := range f.EscalationRules {
		if err := escalation.ValidateRule(rule); err != nil {
			return err
		}
	}
	for _, rule := range f.AutomationRules {
		if err := rules.ValidateAutomationRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// Apply upserts the document into the store in one unit of work and, when dir is not
// nil, replaces the directory contents. Rule declaration order follows document order.
func Apply(ctx context.Context, f *File, store repository.Store, dir *directory.Static, now time.Time, logger *zap.Logger) error {
	err := store.Atomic(ctx, func(repos repository.Repositories) error {
		for i := range f.ChainDefinitions {
			def := f.ChainDefinitions[i]
			def.CreatedAt, def.UpdatedAt = now, now
			if err := repos.ChainDefinitions.Upsert(ctx, &def); err != nil {
				return err
			}
		}
		for i := range f.EscalationRules {
			rule := f.EscalationRules[i]
			if err := repos.EscalationRules.Upsert(ctx, &rule); err != nil {
				return err
			}
		}
		for i := range f.AutomationRules {
			rule := f.AutomationRules[i]
			if err := repos.AutomationRules.Upsert(ctx, &rule); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.NewInfrastructureError(err)
	}
	if dir != nil {
		dir.Replace(f.Directory)
	}

	logger.Info("seed applied",
		zap.Int("principals", len(f.Directory)),
		zap.Int("chain_definitions", len(f.ChainDefinitions)),
		zap.Int("escalation_rules", len(f.EscalationRules)),
		zap.Int("automation_rules", len(f.AutomationRules)))
	return nil
}
