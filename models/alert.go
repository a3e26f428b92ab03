package models

import (
	"time"
)

type AlertType string

const (
	AlertTypeLowStock       AlertType = "LOW_STOCK"
	AlertTypeCriticalStock  AlertType = "CRITICAL_STOCK"
	AlertTypeOrderOverdue   AlertType = "ORDER_OVERDUE"
	AlertTypePaymentPending AlertType = "PAYMENT_PENDING"
)

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "LOW"
	AlertSeverityMedium   AlertSeverity = "MEDIUM"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

const (
	AlertRelatedTypeFabric    = "fabric"
	AlertRelatedTypeAccessory = "accessory"
	AlertRelatedTypeOrder     = "order"
)

// Alert is derived, disposable state: created when its triggering condition
// becomes true, deleted when it becomes false. Its existence is always
// recomputed by the reconciler, never trusted as a cache.
type Alert struct {
	ID          int           `gorm:"primary_key" json:"id"`
	AlertType   AlertType     `gorm:"type:enum('LOW_STOCK','CRITICAL_STOCK','ORDER_OVERDUE','PAYMENT_PENDING');not null" json:"alert_type"`
	Severity    AlertSeverity `gorm:"type:enum('LOW','MEDIUM','HIGH','CRITICAL');not null" json:"severity"`
	Title       string        `gorm:"size:100;not null" json:"title"`
	Message     string        `gorm:"type:text" json:"message"`
	RelatedType string        `gorm:"size:20;index:idx_alert_related" json:"related_type"`
	RelatedId   int           `gorm:"index:idx_alert_related" json:"related_id"`
	IsDismissed *bool         `gorm:"default:false" json:"is_dismissed"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
