package models

import (
	"time"

	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockMovementType string

const (
	StockMovementTypeOrderReserved StockMovementType = "ORDER_RESERVED"
	StockMovementTypeOrderReleased StockMovementType = "ORDER_RELEASED"
	StockMovementTypeOrderUsed     StockMovementType = "ORDER_USED"
	StockMovementTypeAdjustment    StockMovementType = "ADJUSTMENT"
)

// StockMovement is an append-only audit record of one reservation event.
// Rows are never updated or deleted, and never read back for calculation;
// the stock record's counters are authoritative.
type StockMovement struct {
	ID                 int               `gorm:"primary_key" json:"id"`
	MovementType       StockMovementType `gorm:"type:enum('ORDER_RESERVED','ORDER_RELEASED','ORDER_USED','ADJUSTMENT');not null" json:"movement_type"`
	FabricStockId      int               `gorm:"index;not null" json:"fabric_stock_id"`
	OrderId            int               `gorm:"index" json:"order_id"`
	QuantityMeters     decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"quantity_meters"`
	BalanceAfterMeters decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"balance_after_meters"`
	UserId             int               `gorm:"index" json:"user_id"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// appendStockMovement writes the immutable ledger row for one counter change.
// The recorded balance is the physical stock after the operation; reservation
// changes do not move physical stock, so it equals CurrentStock.
func appendStockMovement(tx *gorm.DB, movementType StockMovementType, stock *FabricStock, quantity decimal.Decimal, orderId int) (*StockMovement, error) {
	userId, _ := utils.GetUserIdFromContext(tx.Statement.Context)
	movement := StockMovement{
		MovementType:       movementType,
		FabricStockId:      stock.ID,
		OrderId:            orderId,
		QuantityMeters:     quantity,
		BalanceAfterMeters: stock.CurrentStock,
		UserId:             userId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}
