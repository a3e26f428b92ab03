package workflow_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"bitbucket.org/stitchworks/tailor_backend/workflow"
)

// Regression against real MySQL: reconciling twice with no state change in
// between must be a no-op on the second run, and fixing the triggering
// condition must resolve the alert on the next run.

func TestReconcileAlertsSecondRunIsNoOp(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stitchworks_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	active := true
	// Available 4 against a minimum of 5: CRITICAL.
	fabric := models.FabricStock{Name: "Midnight Velvet", UnitPrice: d("800"), CurrentStock: d("4"), Minimum: d("5"), Active: &active}
	if err := db.Create(&fabric).Error; err != nil {
		t.Fatalf("seed fabric: %v", err)
	}

	// Ten days past delivery and still in progress: ORDER_OVERDUE, HIGH.
	past := time.Now().AddDate(0, 0, -10)
	order := models.Order{
		OrderNumber:  "ORD-INT-0003",
		CustomerId:   1,
		UserId:       1,
		Status:       models.OrderStatusInProgress,
		OrderDate:    past.AddDate(0, -1, 0),
		DeliveryDate: &past,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	first, err := workflow.ReconcileAlerts(ctx, utils.SystemClock())
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Created != 2 || first.Resolved != 0 {
		t.Fatalf("first run expected 2 created, 0 resolved, got %d/%d", first.Created, first.Resolved)
	}

	second, err := workflow.ReconcileAlerts(ctx, utils.SystemClock())
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Created != 0 || second.Resolved != 0 {
		t.Fatalf("second run must be a no-op, got %d created, %d resolved", second.Created, second.Resolved)
	}

	var alerts []models.Alert
	if err := db.Find(&alerts).Error; err != nil {
		t.Fatalf("load alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected exactly 2 alerts after both runs, got %d", len(alerts))
	}
	byType := make(map[models.AlertType]models.Alert, len(alerts))
	for _, a := range alerts {
		byType[a.AlertType] = a
	}
	if a, ok := byType[models.AlertTypeCriticalStock]; !ok || a.Severity != models.AlertSeverityCritical {
		t.Fatalf("missing or wrong stock alert: %+v", byType)
	}
	if a, ok := byType[models.AlertTypeOrderOverdue]; !ok || a.Severity != models.AlertSeverityHigh {
		t.Fatalf("missing or wrong overdue alert: %+v", byType)
	}

	// Restocking clears the trigger; the next run resolves the stock alert
	// and leaves the overdue alert standing.
	if err := db.Model(&models.FabricStock{}).Where("id = ?", fabric.ID).
		Update("current_stock", d("40")).Error; err != nil {
		t.Fatalf("restock fabric: %v", err)
	}
	third, err := workflow.ReconcileAlerts(ctx, utils.SystemClock())
	if err != nil {
		t.Fatalf("third reconcile: %v", err)
	}
	if third.Created != 0 || third.Resolved != 1 {
		t.Fatalf("third run expected 0 created, 1 resolved, got %d/%d", third.Created, third.Resolved)
	}
}
