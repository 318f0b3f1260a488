package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/carebridge/resetd"
)

// auditLogModel maps the audit_logs table shared with the rest of the
// marketplace backend.
type auditLogModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Action    string    `gorm:"column:action;not null;index"`
	ActorID   string    `gorm:"column:actor_id;index"`
	IPAddress string    `gorm:"column:ip_address"`
	UserAgent string    `gorm:"column:user_agent"`
	Success   bool      `gorm:"column:success"`
	Detail    string    `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string {
	return "audit_logs"
}

// AuditSink persists reset audit events to Postgres. Emit runs on the
// engine's dispatcher goroutine; a failed insert is dropped silently
// because audit writes must never block or fail the workflow.
type AuditSink struct {
	db *gorm.DB
}

func NewAuditSink(db *gorm.DB) *AuditSink {
	return &AuditSink{db: db}
}

func (s *AuditSink) Emit(ctx context.Context, event resetd.AuditEvent) {
	detail := ""
	if event.Error != "" || len(event.Metadata) > 0 {
		raw, err := json.Marshal(map[string]interface{}{
			"error":    event.Error,
			"metadata": event.Metadata,
		})
		if err == nil {
			detail = string(raw)
		}
	}

	record := auditLogModel{
		ID:        uuid.NewString(),
		Action:    event.EventType,
		ActorID:   event.UserID,
		IPAddress: event.IP,
		UserAgent: event.UserAgent,
		Success:   event.Success,
		Detail:    detail,
		CreatedAt: event.Timestamp,
	}

	_ = s.db.WithContext(ctx).Create(&record).Error
}
