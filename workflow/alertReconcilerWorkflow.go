package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	reconcileLockKey    = "tailor:alerts:reconcile"
	reconcileSummaryKey = "tailor:alerts:last_run"
	reconcileLockTTL    = 2 * time.Minute
	overdueHighAfter    = 7 * 24 * time.Hour
	staleDismissedAge   = 30 * 24 * time.Hour
)

// lowStockMultiplier widens the LOW band above the minimum threshold.
var lowStockMultiplier = decimal.NewFromFloat(1.25)

type AlertReconcileResult struct {
	Created  int        `json:"created"`
	Resolved int        `json:"resolved"`
	RanAt    *time.Time `json:"ran_at,omitempty"`
}

// desiredAlert describes one alert that should exist right now.
type desiredAlert struct {
	AlertType   models.AlertType
	Severity    models.AlertSeverity
	Title       string
	Message     string
	RelatedType string
	RelatedId   int
}

func (d desiredAlert) key() string {
	return fmt.Sprintf("%s|%s|%d", d.AlertType, d.RelatedType, d.RelatedId)
}

func alertKey(a *models.Alert) string {
	return fmt.Sprintf("%s|%s|%d", a.AlertType, a.RelatedType, a.RelatedId)
}

// desiredStockAlert maps an availability level against its minimum threshold.
// At or below the minimum is CRITICAL; within 25% above it is LOW; nil means
// no alert should exist.
func desiredStockAlert(available decimal.Decimal, minimum decimal.Decimal) (models.AlertType, models.AlertSeverity, bool) {
	if !minimum.IsPositive() {
		return "", "", false
	}
	if available.LessThanOrEqual(minimum) {
		return models.AlertTypeCriticalStock, models.AlertSeverityCritical, true
	}
	if available.LessThanOrEqual(minimum.Mul(lowStockMultiplier)) {
		return models.AlertTypeLowStock, models.AlertSeverityLow, true
	}
	return "", "", false
}

// overdueSeverity escalates after an order has been overdue a full week.
func overdueSeverity(deliveryDate time.Time, now time.Time) models.AlertSeverity {
	if now.Sub(deliveryDate) > overdueHighAfter {
		return models.AlertSeverityHigh
	}
	return models.AlertSeverityMedium
}

// ReconcileAlerts recomputes the desired alert set from current stock and
// order state and diffs it against the stored set. Missing alerts are
// created, obsolete ones deleted, severity drift is corrected in place.
// Per-record read failures are logged and skipped so one bad row never
// blocks the rest of the sweep.
func ReconcileAlerts(ctx context.Context, clock utils.Clock) (*AlertReconcileResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	now := clock.Now()

	desired := make(map[string]desiredAlert)

	var fabrics []models.FabricStock
	if err := db.WithContext(ctx).Where("active = ?", true).Find(&fabrics).Error; err != nil {
		config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "LoadFabricStocks", nil, err)
	} else {
		for i := range fabrics {
			stock := &fabrics[i]
			alertType, severity, wanted := desiredStockAlert(stock.Available(), stock.Minimum)
			if !wanted {
				continue
			}
			d := desiredAlert{
				AlertType:   alertType,
				Severity:    severity,
				Title:       fmt.Sprintf("%s stock: %s", severityWord(severity), stock.Name),
				Message:     fmt.Sprintf("Fabric %s has %s m available against a minimum of %s m", stock.Name, stock.Available().StringFixed(2), stock.Minimum.StringFixed(2)),
				RelatedType: models.AlertRelatedTypeFabric,
				RelatedId:   stock.ID,
			}
			desired[d.key()] = d
		}
	}

	var accessories []models.AccessoryStock
	if err := db.WithContext(ctx).Where("active = ?", true).Find(&accessories).Error; err != nil {
		config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "LoadAccessoryStocks", nil, err)
	} else {
		for i := range accessories {
			stock := &accessories[i]
			alertType, severity, wanted := desiredStockAlert(stock.Available(), stock.Minimum)
			if !wanted {
				continue
			}
			d := desiredAlert{
				AlertType:   alertType,
				Severity:    severity,
				Title:       fmt.Sprintf("%s stock: %s", severityWord(severity), stock.Name),
				Message:     fmt.Sprintf("Accessory %s has %s available against a minimum of %s", stock.Name, stock.Available().StringFixed(2), stock.Minimum.StringFixed(2)),
				RelatedType: models.AlertRelatedTypeAccessory,
				RelatedId:   stock.ID,
			}
			desired[d.key()] = d
		}
	}

	var overdueOrders []models.Order
	if err := db.WithContext(ctx).
		Where("delivery_date < ?", now).
		Where("status NOT IN ?", []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled}).
		Find(&overdueOrders).Error; err != nil {
		config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "LoadOverdueOrders", nil, err)
	} else {
		for i := range overdueOrders {
			order := &overdueOrders[i]
			if order.DeliveryDate == nil {
				continue
			}
			d := desiredAlert{
				AlertType:   models.AlertTypeOrderOverdue,
				Severity:    overdueSeverity(*order.DeliveryDate, now),
				Title:       fmt.Sprintf("Order overdue: %s", order.OrderNumber),
				Message:     fmt.Sprintf("Order %s was due on %s and is still %s", order.OrderNumber, order.DeliveryDate.Format("2006-01-02"), order.Status),
				RelatedType: models.AlertRelatedTypeOrder,
				RelatedId:   order.ID,
			}
			desired[d.key()] = d
		}
	}

	var unpaidDelivered []models.Order
	if err := db.WithContext(ctx).
		Where("status = ?", models.OrderStatusDelivered).
		Where("balance_amount > 0").
		Find(&unpaidDelivered).Error; err != nil {
		config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "LoadUnpaidDelivered", nil, err)
	} else {
		for i := range unpaidDelivered {
			order := &unpaidDelivered[i]
			d := desiredAlert{
				AlertType:   models.AlertTypePaymentPending,
				Severity:    models.AlertSeverityMedium,
				Title:       fmt.Sprintf("Payment pending: %s", order.OrderNumber),
				Message:     fmt.Sprintf("Order %s was delivered with %s outstanding", order.OrderNumber, order.BalanceAmount.StringFixed(2)),
				RelatedType: models.AlertRelatedTypeOrder,
				RelatedId:   order.ID,
			}
			desired[d.key()] = d
		}
	}

	var existing []models.Alert
	if err := db.WithContext(ctx).Where("is_dismissed = ?", false).Find(&existing).Error; err != nil {
		config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "LoadExistingAlerts", nil, err)
		return nil, err
	}

	result := &AlertReconcileResult{}
	existingByKey := make(map[string]*models.Alert, len(existing))
	for i := range existing {
		alert := &existing[i]
		key := alertKey(alert)
		if existingByKey[key] != nil {
			// Duplicate from a crashed earlier run; keep the first, drop the rest.
			if err := db.WithContext(ctx).Delete(&models.Alert{}, alert.ID).Error; err != nil {
				config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "DeleteDuplicateAlert", alert.ID, err)
			}
			continue
		}
		existingByKey[key] = alert
	}

	for key, d := range desired {
		current := existingByKey[key]
		if current == nil {
			alert := models.Alert{
				AlertType:   d.AlertType,
				Severity:    d.Severity,
				Title:       d.Title,
				Message:     d.Message,
				RelatedType: d.RelatedType,
				RelatedId:   d.RelatedId,
			}
			if err := db.WithContext(ctx).Create(&alert).Error; err != nil {
				config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "CreateAlert", key, err)
				continue
			}
			result.Created++
			continue
		}
		// Severity drift (an overdue order crossing the one-week line) is
		// corrected in place and not counted as a create or resolve.
		if current.Severity != d.Severity || current.Message != d.Message {
			if err := db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", current.ID).Updates(map[string]interface{}{
				"severity": d.Severity,
				"message":  d.Message,
			}).Error; err != nil {
				config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "UpdateAlertSeverity", current.ID, err)
			}
		}
	}

	for key, alert := range existingByKey {
		if _, stillWanted := desired[key]; stillWanted {
			continue
		}
		if err := db.WithContext(ctx).Delete(&models.Alert{}, alert.ID).Error; err != nil {
			config.LogError(logger, "alertReconcilerWorkflow.go", "ReconcileAlerts", "ResolveAlert", alert.ID, err)
			continue
		}
		result.Resolved++
	}

	return result, nil
}

// ReconcileAlertsWithLock serializes scheduled reconciler runs across
// instances. When redis is unavailable the sweep runs unguarded; the diff
// is idempotent so a concurrent run wastes work but cannot corrupt state.
func ReconcileAlertsWithLock(ctx context.Context, clock utils.Clock) (*AlertReconcileResult, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return reconcileAndRecord(ctx, clock)
	}

	lock, err := locker.Obtain(ctx, reconcileLockKey, reconcileLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		// Another instance is sweeping; hand back its last recorded summary.
		var last AlertReconcileResult
		if found, err := config.GetRedisObject(reconcileSummaryKey, &last); err == nil && found {
			return &last, nil
		}
		return &AlertReconcileResult{}, nil
	}
	if err != nil {
		config.LogError(config.GetLogger(), "alertReconcilerWorkflow.go", "ReconcileAlertsWithLock", "ObtainLock", reconcileLockKey, err)
		return reconcileAndRecord(ctx, clock)
	}
	defer lock.Release(context.WithoutCancel(ctx))

	return reconcileAndRecord(ctx, clock)
}

func reconcileAndRecord(ctx context.Context, clock utils.Clock) (*AlertReconcileResult, error) {
	result, err := ReconcileAlerts(ctx, clock)
	if err != nil {
		return nil, err
	}
	ranAt := clock.Now()
	result.RanAt = &ranAt
	if err := config.SetRedisObject(reconcileSummaryKey, result, 24*time.Hour); err != nil {
		config.LogError(config.GetLogger(), "alertReconcilerWorkflow.go", "reconcileAndRecord", "CacheSummary", reconcileSummaryKey, err)
	}
	return result, nil
}

// PurgeStaleAlerts removes dismissed alerts older than thirty days.
func PurgeStaleAlerts(ctx context.Context, clock utils.Clock) (int64, error) {
	db := config.GetDB()
	cutoff := clock.Now().Add(-staleDismissedAge)

	res := db.WithContext(ctx).
		Where("is_dismissed = ?", true).
		Where("updated_at < ?", cutoff).
		Delete(&models.Alert{})
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		config.LogError(config.GetLogger(), "alertReconcilerWorkflow.go", "PurgeStaleAlerts", "DeleteStale", cutoff, res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func severityWord(severity models.AlertSeverity) string {
	if severity == models.AlertSeverityCritical {
		return "Critical"
	}
	return "Low"
}
