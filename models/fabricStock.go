package models

import (
	"time"

	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FabricStock is the current physical stock of one cloth, a reserved counter
// for open orders, and a minimum threshold for alerting.
// Invariant after every operation: 0 <= reserved <= currentStock.
// The reserved counter is mutated exclusively through the reservation ledger
// functions below, which append one immutable StockMovement per change.
type FabricStock struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Sku          string          `gorm:"size:50;uniqueIndex" json:"sku"`
	Name         string          `gorm:"size:100;not null" json:"name"`
	Brand        string          `gorm:"size:100" json:"brand"`
	Color        string          `gorm:"size:50" json:"color"`
	FabricType   string          `gorm:"size:50" json:"fabric_type"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	Reserved     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reserved"`
	Minimum      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum"`
	Active       *bool           `gorm:"default:true" json:"active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AccessoryStock tracks button/lining/thread style consumables. It has no
// reservation counter; only the alert reconciler reads it.
type AccessoryStock struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Sku           string          `gorm:"size:50;uniqueIndex" json:"sku"`
	Name          string          `gorm:"size:100;not null" json:"name"`
	AccessoryType string          `gorm:"size:50" json:"accessory_type"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CurrentStock  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	Minimum       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum"`
	Active        *bool           `gorm:"default:true" json:"active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Available is the only quantity offered for new commitments.
func (s *FabricStock) Available() decimal.Decimal {
	return s.CurrentStock.Sub(s.Reserved)
}

func (s *AccessoryStock) Available() decimal.Decimal {
	return s.CurrentStock
}

// applyReserve increments the reserved counter on the in-memory record.
// Rejects when the increment would exceed physical stock, unless
// allowOverReserve is set (administrative corrections only).
func (s *FabricStock) applyReserve(quantity decimal.Decimal, allowOverReserve bool) error {
	newReserved := s.Reserved.Add(quantity)
	if !allowOverReserve && newReserved.GreaterThan(s.CurrentStock) {
		return utils.ErrorInsufficientAvailableStock
	}
	s.Reserved = newReserved
	return nil
}

// applyRelease decrements the reserved counter, clamped at zero.
func (s *FabricStock) applyRelease(quantity decimal.Decimal) {
	s.Reserved = s.Reserved.Sub(quantity)
	if s.Reserved.IsNegative() {
		s.Reserved = decimal.Zero
	}
}

// applyConsume drops physical stock by usedMeters and the reserved counter by
// reservedMeters. Rejects a draw that would leave the surviving holds above
// physical stock, so one order's overrun cannot invalidate another order's
// reservation.
func (s *FabricStock) applyConsume(usedMeters decimal.Decimal, reservedMeters decimal.Decimal) error {
	newStock := s.CurrentStock.Sub(usedMeters)
	newReserved := s.Reserved.Sub(reservedMeters)
	if newReserved.IsNegative() {
		newReserved = decimal.Zero
	}
	if newStock.LessThan(newReserved) {
		return utils.ErrorInsufficientAvailableStock
	}
	s.CurrentStock = newStock
	s.Reserved = newReserved
	return nil
}

// GetFabricStockForUpdate row-locks one fabric stock record for the duration
// of the caller's transaction.
func GetFabricStockForUpdate(tx *gorm.DB, stockId int) (*FabricStock, error) {
	var stock FabricStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&stock, stockId).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorInvalidReference
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// ReserveFabric places a soft hold of quantity meters against a stock record
// for an order and appends the movement explaining it.
func ReserveFabric(tx *gorm.DB, stockId int, quantity decimal.Decimal, orderId int) (*StockMovement, error) {
	stock, err := GetFabricStockForUpdate(tx, stockId)
	if err != nil {
		return nil, err
	}
	return reserveLocked(tx, stock, quantity, orderId)
}

func reserveLocked(tx *gorm.DB, stock *FabricStock, quantity decimal.Decimal, orderId int) (*StockMovement, error) {
	if err := stock.applyReserve(quantity, false); err != nil {
		return nil, err
	}
	if err := tx.Model(&FabricStock{}).Where("id = ?", stock.ID).
		Update("reserved", stock.Reserved).Error; err != nil {
		return nil, err
	}
	movement, err := appendStockMovement(tx, StockMovementTypeOrderReserved, stock, quantity, orderId)
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// ReleaseFabric drops a hold. The counter clamps at zero; the movement is
// recorded with a negative quantity.
func ReleaseFabric(tx *gorm.DB, stockId int, quantity decimal.Decimal, orderId int) (*StockMovement, error) {
	stock, err := GetFabricStockForUpdate(tx, stockId)
	if err != nil {
		return nil, err
	}
	return releaseLocked(tx, stock, quantity, orderId)
}

func releaseLocked(tx *gorm.DB, stock *FabricStock, quantity decimal.Decimal, orderId int) (*StockMovement, error) {
	stock.applyRelease(quantity)
	if err := tx.Model(&FabricStock{}).Where("id = ?", stock.ID).
		Update("reserved", stock.Reserved).Error; err != nil {
		return nil, err
	}
	movement, err := appendStockMovement(tx, StockMovementTypeOrderReleased, stock, quantity.Neg(), orderId)
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// ConsumeFabric converts a hold into actual consumption on delivery: physical
// stock drops by usedMeters, the hold of reservedMeters is dropped, and one
// ORDER_USED movement records the draw. A draw that would eat into other
// orders' holds is rejected.
func ConsumeFabric(tx *gorm.DB, stockId int, usedMeters decimal.Decimal, reservedMeters decimal.Decimal, orderId int) (*StockMovement, error) {
	stock, err := GetFabricStockForUpdate(tx, stockId)
	if err != nil {
		return nil, err
	}
	if err := stock.applyConsume(usedMeters, reservedMeters); err != nil {
		return nil, err
	}
	if err := tx.Model(&FabricStock{}).Where("id = ?", stock.ID).Updates(map[string]interface{}{
		"current_stock": stock.CurrentStock,
		"reserved":      stock.Reserved,
	}).Error; err != nil {
		return nil, err
	}
	return appendStockMovement(tx, StockMovementTypeOrderUsed, stock, usedMeters.Neg(), orderId)
}

// TransferFabricReservation moves a hold between two stock records inside the
// caller's transaction: release on the old record, reserve on the new one,
// two movements so the audit trail shows provenance. Locks both records
// before either counter changes, so a failed reserve rolls back the release.
func TransferFabricReservation(tx *gorm.DB, fromStockId int, toStockId int, quantity decimal.Decimal, orderId int) (*StockMovement, *StockMovement, error) {
	fromStock, err := GetFabricStockForUpdate(tx, fromStockId)
	if err != nil {
		return nil, nil, err
	}
	toStock, err := GetFabricStockForUpdate(tx, toStockId)
	if err != nil {
		return nil, nil, err
	}

	// Check the destination before touching either counter so a rejection
	// leaves both records untouched.
	if toStock.Reserved.Add(quantity).GreaterThan(toStock.CurrentStock) {
		return nil, nil, utils.ErrorInsufficientAvailableStock
	}

	releaseMovement, err := releaseLocked(tx, fromStock, quantity, orderId)
	if err != nil {
		return nil, nil, err
	}
	reserveMovement, err := reserveLocked(tx, toStock, quantity, orderId)
	if err != nil {
		return nil, nil, err
	}
	return releaseMovement, reserveMovement, nil
}
