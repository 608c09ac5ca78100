package services

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tansu-cloud/gateway/internal/models"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record persists one admin mutation event.
func (s *AuditService) Record(actor, action, policyID, before, after string) error {
	event := &models.AuditEvent{
		UUID:     uuid.New().String(),
		Actor:    actor,
		Action:   action,
		PolicyID: policyID,
		Before:   before,
		After:    after,
	}
	return s.db.Create(event).Error
}

// List returns the most recent audit events, newest first.
func (s *AuditService) List(limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.AuditEvent
	if err := s.db.Order("created_at desc").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
