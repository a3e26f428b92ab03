package models

import (
	"testing"

	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
)

func df(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestApplyReserve_RejectsOverReservation(t *testing.T) {
	stock := FabricStock{CurrentStock: df(10), Reserved: df(4)}

	err := stock.applyReserve(df(7), false)
	if err != utils.ErrorInsufficientAvailableStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	// A rejected reservation must leave the counters untouched.
	if !stock.Reserved.Equal(df(4)) {
		t.Fatalf("reserved changed after rejection: %s", stock.Reserved)
	}

	if err := stock.applyReserve(df(6), false); err != nil {
		t.Fatalf("reserve up to current stock should succeed: %v", err)
	}
	if !stock.Reserved.Equal(df(10)) {
		t.Fatalf("expected reserved 10, got %s", stock.Reserved)
	}
	if !stock.Available().IsZero() {
		t.Fatalf("expected zero available, got %s", stock.Available())
	}
}

func TestApplyReserve_OverrideAllowsNegativeAvailable(t *testing.T) {
	stock := FabricStock{CurrentStock: df(10), Reserved: df(8)}

	if err := stock.applyReserve(df(5), true); err != nil {
		t.Fatalf("override reserve failed: %v", err)
	}
	if !stock.Reserved.Equal(df(13)) {
		t.Fatalf("expected reserved 13, got %s", stock.Reserved)
	}
	if !stock.Available().Equal(df(-3)) {
		t.Fatalf("expected available -3, got %s", stock.Available())
	}
}

func TestApplyRelease_ClampsAtZero(t *testing.T) {
	stock := FabricStock{CurrentStock: df(10), Reserved: df(3)}

	stock.applyRelease(df(5))
	if !stock.Reserved.IsZero() {
		t.Fatalf("expected reserved clamped at zero, got %s", stock.Reserved)
	}
	// CurrentStock is never touched by reserve or release.
	if !stock.CurrentStock.Equal(df(10)) {
		t.Fatalf("current stock changed on release: %s", stock.CurrentStock)
	}
}

func TestApplyConsume_DrawsStockAndDropsHold(t *testing.T) {
	stock := FabricStock{CurrentStock: df(20), Reserved: df(8)}

	// Delivery of a 5 m hold with 1 m overrun.
	if err := stock.applyConsume(df(6), df(5)); err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !stock.CurrentStock.Equal(df(14)) {
		t.Fatalf("expected current stock 14, got %s", stock.CurrentStock)
	}
	if !stock.Reserved.Equal(df(3)) {
		t.Fatalf("expected reserved 3, got %s", stock.Reserved)
	}
}

func TestApplyConsume_RejectsDrawIntoOtherHolds(t *testing.T) {
	// 10 in stock, this order holds 4, another order holds 6. A 5 m draw
	// would leave 5 in stock against the surviving 6 m hold.
	stock := FabricStock{CurrentStock: df(10), Reserved: df(10)}

	err := stock.applyConsume(df(5), df(4))
	if err != utils.ErrorInsufficientAvailableStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	// A rejected draw must leave both counters untouched.
	if !stock.CurrentStock.Equal(df(10)) {
		t.Fatalf("current stock changed after rejection: %s", stock.CurrentStock)
	}
	if !stock.Reserved.Equal(df(10)) {
		t.Fatalf("reserved changed after rejection: %s", stock.Reserved)
	}

	// Exactly exhausting stock and holds together is fine.
	if err := stock.applyConsume(df(4), df(4)); err != nil {
		t.Fatalf("exact draw should succeed: %v", err)
	}
	if !stock.CurrentStock.Equal(df(6)) || !stock.Reserved.Equal(df(6)) {
		t.Fatalf("expected 6/6 after exact draw, got %s/%s", stock.CurrentStock, stock.Reserved)
	}
}

func TestAvailable_FabricVsAccessory(t *testing.T) {
	fabric := FabricStock{CurrentStock: df(12.5), Reserved: df(2.5)}
	if !fabric.Available().Equal(df(10)) {
		t.Fatalf("fabric available expected 10, got %s", fabric.Available())
	}

	accessory := AccessoryStock{CurrentStock: df(30)}
	if !accessory.Available().Equal(df(30)) {
		t.Fatalf("accessory available expected 30, got %s", accessory.Available())
	}
}
