package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/models"
)

var (
	ErrPolicyNotFound    = errors.New("policy not found")
	ErrInvalidPolicyType = errors.New("invalid policy type")
	ErrInvalidPolicyMode = errors.New("invalid policy mode")
	ErrInvalidCIDR       = errors.New("invalid IP address or CIDR")
	ErrInvalidConfig     = errors.New("invalid policy config")
)

// ValidPolicyTypes defines allowed policy types.
var ValidPolicyTypes = []models.PolicyType{
	models.PolicyTypeCORS,
	models.PolicyTypeIPAllow,
	models.PolicyTypeIPDeny,
}

// ValidPolicyModes defines allowed enforcement modes.
var ValidPolicyModes = []models.PolicyMode{
	models.ModeShadow,
	models.ModeAuditOnly,
	models.ModeEnforce,
}

// Invalidator is notified synchronously after every successful policy write,
// before the write call returns. The policy cache registers here.
type Invalidator interface {
	Invalidate()
}

type PolicyService struct {
	db          *gorm.DB
	audit       *AuditService
	invalidator Invalidator
}

func NewPolicyService(db *gorm.DB, audit *AuditService) *PolicyService {
	return &PolicyService{db: db, audit: audit}
}

// SetInvalidator registers the cache invalidation hook. Wired once at startup.
func (s *PolicyService) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// List retrieves all policies sorted by updated_at desc.
func (s *PolicyService) List() ([]models.Policy, error) {
	var policies []models.Policy
	if err := s.db.Order("updated_at desc").Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// ListEnabled retrieves enabled policies only; the policy cache loads through
// this.
func (s *PolicyService) ListEnabled() ([]models.Policy, error) {
	var policies []models.Policy
	if err := s.db.Where("enabled = ?", true).Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// Get retrieves a policy by its string key.
func (s *PolicyService) Get(policyID string) (*models.Policy, error) {
	var policy models.Policy
	if err := s.db.Where("policy_id = ?", policyID).First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// Upsert creates or replaces a policy by its string key. Returns the
// persisted policy and whether it was newly created.
func (s *PolicyService) Upsert(actor string, incoming *models.Policy) (*models.Policy, bool, error) {
	if err := s.validate(incoming); err != nil {
		return nil, false, err
	}

	existing, err := s.Get(incoming.PolicyID)
	if err != nil && !errors.Is(err, ErrPolicyNotFound) {
		return nil, false, err
	}

	created := existing == nil
	var before string
	if existing != nil {
		before = summarize(existing)
		existing.Type = incoming.Type
		existing.Mode = incoming.Mode
		existing.Config = incoming.Config
		existing.Enabled = incoming.Enabled
		if err := s.db.Save(existing).Error; err != nil {
			return nil, false, err
		}
		incoming = existing
	} else {
		if err := s.db.Create(incoming).Error; err != nil {
			return nil, false, err
		}
	}

	s.invalidate()

	if err := s.audit.Record(actor, "upsert", incoming.PolicyID, before, summarize(incoming)); err != nil {
		logger.WithComponent("policy.service").WithError(err).Warn("audit record failed")
	}

	return incoming, created, nil
}

// Delete removes a policy by its string key. Idempotent: deleting an absent
// policy returns ErrPolicyNotFound, which callers may treat as success.
func (s *PolicyService) Delete(actor, policyID string) error {
	existing, err := s.Get(policyID)
	if err != nil {
		return err
	}

	if err := s.db.Delete(existing).Error; err != nil {
		return err
	}

	s.invalidate()

	if err := s.audit.Record(actor, "delete", policyID, summarize(existing), ""); err != nil {
		logger.WithComponent("policy.service").WithError(err).Warn("audit record failed")
	}

	return nil
}

func (s *PolicyService) invalidate() {
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
}

// validate checks the type/mode enums and the config payload against the
// type's schema. Validation failures are never persisted.
func (s *PolicyService) validate(policy *models.Policy) error {
	if strings.TrimSpace(policy.PolicyID) == "" {
		return errors.New("policy id is required")
	}

	if !validType(policy.Type) {
		return ErrInvalidPolicyType
	}
	if !validMode(policy.Mode) {
		return ErrInvalidPolicyMode
	}

	switch policy.Type {
	case models.PolicyTypeIPAllow, models.PolicyTypeIPDeny:
		var cfg models.IPConfig
		if err := json.Unmarshal([]byte(policy.Config), &cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if len(cfg.CIDRs) == 0 {
			return fmt.Errorf("%w: at least one CIDR is required", ErrInvalidConfig)
		}
		for _, cidr := range cfg.CIDRs {
			if !validCIDR(cidr) {
				return fmt.Errorf("%w: %s", ErrInvalidCIDR, cidr)
			}
		}
	case models.PolicyTypeCORS:
		var cfg models.CORSConfig
		if err := json.Unmarshal([]byte(policy.Config), &cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if len(cfg.Origins) == 0 {
			return fmt.Errorf("%w: at least one origin is required", ErrInvalidConfig)
		}
		for _, origin := range cfg.Origins {
			if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
				return fmt.Errorf("%w: origin %q must be * or an absolute http(s) origin", ErrInvalidConfig, origin)
			}
		}
		if cfg.MaxAgeSeconds < 0 {
			return fmt.Errorf("%w: maxAgeSeconds must not be negative", ErrInvalidConfig)
		}
	}

	return nil
}

func validType(t models.PolicyType) bool {
	for _, valid := range ValidPolicyTypes {
		if t == valid {
			return true
		}
	}
	return false
}

func validMode(m models.PolicyMode) bool {
	for _, valid := range ValidPolicyModes {
		if m == valid {
			return true
		}
	}
	return false
}

// validCIDR accepts a single IP (v4 or v6) or CIDR notation.
func validCIDR(cidr string) bool {
	if ip := net.ParseIP(cidr); ip != nil {
		return true
	}
	_, _, err := net.ParseCIDR(cidr)
	return err == nil
}

// summarize renders the audit before/after snapshot of a policy.
func summarize(policy *models.Policy) string {
	out, _ := json.Marshal(map[string]interface{}{
		"type":    policy.Type,
		"mode":    policy.Mode,
		"enabled": policy.Enabled,
		"config":  json.RawMessage(policy.Config),
	})
	return string(out)
}
