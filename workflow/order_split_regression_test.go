package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"bitbucket.org/stitchworks/tailor_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end regression against real MySQL: split an order, then verify that
// money conserves across both orders, items actually moved, and both payment
// schedules were rebuilt. Also covers the fabric reservation transfer on an
// item fabric change.

func TestSplitOrderConservesMoneyAndMovesItems(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers. Redis stays unconfigured: the
	// workflows must work without it.
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stitchworks_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// History rows require a user in context.
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	stockA := models.FabricStock{Name: "Navy Wool", UnitPrice: d("400"), CurrentStock: d("50"), Reserved: d("6"), Minimum: d("5")}
	stockB := models.FabricStock{Name: "Grey Linen", UnitPrice: d("600"), CurrentStock: d("40"), Reserved: d("2.5"), Minimum: d("5")}
	if err := db.Create(&stockA).Error; err != nil {
		t.Fatalf("seed stock A: %v", err)
	}
	if err := db.Create(&stockB).Error; err != nil {
		t.Fatalf("seed stock B: %v", err)
	}

	pattern := models.GarmentPattern{Name: "Two-Piece Suit", BaseMeters: d("3"), LargeAdjustment: d("0.4")}
	if err := db.Create(&pattern).Error; err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	due := time.Now().AddDate(0, 1, 0)
	order := models.Order{
		OrderNumber: "ORD-INT-0001",
		CustomerId:  1,
		UserId:      1,
		Status:      models.OrderStatusInProgress,
		OrderDate:   time.Now(),

		FabricCost:              d("4000"),
		FabricWastageAmount:     d("400"),
		AccessoriesCost:         d("600"),
		StitchingCost:           d("3000"),
		WorkmanshipPremiums:     d("1500"),
		DesignerConsultationFee: d("500"),
		HandStitchingCost:       d("1500"),

		SubTotal:      d("10000"),
		GstRate:       d("12"),
		GstAmount:     d("1200"),
		Cgst:          d("600"),
		Sgst:          d("600"),
		TotalAmount:   d("11200"),
		Discount:      d("200"),
		AdvancePaid:   d("3000"),
		BalanceAmount: d("8000"),

		Items: []models.OrderItem{
			{GarmentPatternId: pattern.ID, FabricStockId: stockA.ID, Quantity: 2, EstimatedMeters: d("3"), PricePerUnit: d("3000"), TotalPrice: d("6000")},
			{GarmentPatternId: pattern.ID, FabricStockId: stockB.ID, Quantity: 1, EstimatedMeters: d("2.5"), PricePerUnit: d("4000"), TotalPrice: d("4000")},
		},
		Installments: []models.PaymentInstallment{
			{InstallmentNumber: 1, InstallmentAmount: d("3000"), PaidAmount: d("3000"), DueDate: time.Now(), Status: models.InstallmentStatusPaid},
			{InstallmentNumber: 2, InstallmentAmount: d("4000"), DueDate: due, Status: models.InstallmentStatusPending},
			{InstallmentNumber: 3, InstallmentAmount: d("4000"), DueDate: due.AddDate(0, 1, 0), Status: models.InstallmentStatusPending},
		},
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	splitItemId := order.Items[1].ID

	result, err := workflow.SplitOrder(ctx, utils.SystemClock(), order.ID, &workflow.OrderSplitInput{
		ItemIds: []int{splitItemId},
	})
	if err != nil {
		t.Fatalf("SplitOrder: %v", err)
	}

	newOrder := result.NewOrder
	original := result.OriginalOrder

	if !newOrder.TotalAmount.Add(original.TotalAmount).Equal(d("11200")) {
		t.Fatalf("total not conserved: %s + %s", newOrder.TotalAmount, original.TotalAmount)
	}
	if !newOrder.SubTotal.Add(original.SubTotal).Equal(d("10000")) {
		t.Fatalf("sub total not conserved: %s + %s", newOrder.SubTotal, original.SubTotal)
	}
	if !newOrder.Discount.Add(original.Discount).Equal(d("200")) {
		t.Fatalf("discount not conserved: %s + %s", newOrder.Discount, original.Discount)
	}
	if !newOrder.AdvancePaid.Add(original.AdvancePaid).Equal(d("3000")) {
		t.Fatalf("advance not conserved: %s + %s", newOrder.AdvancePaid, original.AdvancePaid)
	}

	if len(original.Items) != 1 || len(newOrder.Items) != 1 {
		t.Fatalf("expected 1 item on each side, got %d and %d", len(original.Items), len(newOrder.Items))
	}
	if newOrder.Items[0].FabricStockId != stockB.ID {
		t.Fatalf("wrong item moved: fabric %d", newOrder.Items[0].FabricStockId)
	}

	if len(original.Installments) != 3 {
		t.Fatalf("expected 3 installments on original, got %d", len(original.Installments))
	}
	if len(newOrder.Installments) != 2 {
		t.Fatalf("expected 2 installments on new order, got %d", len(newOrder.Installments))
	}

	var histories []models.OrderHistory
	if err := db.Where("order_id IN ?", []int{order.ID, newOrder.ID}).Find(&histories).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(histories) != 2 {
		t.Fatalf("expected a history row on each order, got %d", len(histories))
	}

	// Fabric reservations are untouched by a split: the moved item still
	// holds its meters against the same stock.
	var afterB models.FabricStock
	if err := db.First(&afterB, stockB.ID).Error; err != nil {
		t.Fatalf("reload stock B: %v", err)
	}
	if !afterB.Reserved.Equal(d("2.5")) {
		t.Fatalf("split must not touch reservations, got %s", afterB.Reserved)
	}
}

func TestUpdateOrderItemFabricChangeMovesReservation(t *testing.T) {
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

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	oldStock := models.FabricStock{Name: "Charcoal Wool", UnitPrice: d("400"), CurrentStock: d("30"), Reserved: d("5"), Minimum: d("5")}
	newStock := models.FabricStock{Name: "Ivory Silk", UnitPrice: d("900"), CurrentStock: d("20"), Minimum: d("3")}
	if err := db.Create(&oldStock).Error; err != nil {
		t.Fatalf("seed old stock: %v", err)
	}
	if err := db.Create(&newStock).Error; err != nil {
		t.Fatalf("seed new stock: %v", err)
	}

	pattern := models.GarmentPattern{Name: "Sherwani", BaseMeters: d("2.5")}
	if err := db.Create(&pattern).Error; err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	order := models.Order{
		OrderNumber: "ORD-INT-0002",
		CustomerId:  1,
		UserId:      1,
		Status:      models.OrderStatusConfirmed,
		OrderDate:   time.Now(),
		SubTotal:      d("2200"),
		GstRate:       d("12"),
		GstAmount:     d("264"),
		Cgst:          d("132"),
		Sgst:          d("132"),
		TotalAmount:   d("2464"),
		BalanceAmount: d("2464"),
		Items: []models.OrderItem{
			// 2.5 m at 400/m x2 = 2000 fabric; 200 of the total is other cost.
			{GarmentPatternId: pattern.ID, FabricStockId: oldStock.ID, Quantity: 2, EstimatedMeters: d("2.5"), PricePerUnit: d("1100"), TotalPrice: d("2200")},
		},
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	result, err := workflow.UpdateOrderItem(ctx, order.ID, order.Items[0].ID, &workflow.OrderItemUpdateInput{
		FabricStockId: &newStock.ID,
	})
	if err != nil {
		t.Fatalf("UpdateOrderItem: %v", err)
	}

	var afterOld, afterNew models.FabricStock
	if err := db.First(&afterOld, oldStock.ID).Error; err != nil {
		t.Fatalf("reload old stock: %v", err)
	}
	if err := db.First(&afterNew, newStock.ID).Error; err != nil {
		t.Fatalf("reload new stock: %v", err)
	}
	if !afterOld.Reserved.IsZero() {
		t.Fatalf("old stock should be fully released, got %s", afterOld.Reserved)
	}
	if !afterNew.Reserved.Equal(d("5")) {
		t.Fatalf("new stock should hold 5 m, got %s", afterNew.Reserved)
	}

	var movements []models.StockMovement
	if err := db.Order("id").Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected release + reserve movements, got %d", len(movements))
	}
	if movements[0].MovementType != models.StockMovementTypeOrderReleased ||
		movements[1].MovementType != models.StockMovementTypeOrderReserved {
		t.Fatalf("unexpected movement types: %s, %s", movements[0].MovementType, movements[1].MovementType)
	}

	// Fabric share repriced at 900/m; the 200 non-fabric share is held.
	if !result.UpdatedItem.TotalPrice.Equal(d("4700")) {
		t.Fatalf("expected repriced total 4700, got %s", result.UpdatedItem.TotalPrice)
	}
	if !result.UpdatedOrder.SubTotal.Equal(d("4700")) {
		t.Fatalf("order sub total not refreshed, got %s", result.UpdatedOrder.SubTotal)
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("tailor-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stitchworks_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
