package models

import (
	"context"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "NEW"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusReady      OrderStatus = "READY"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type OrderPriority string

const (
	OrderPriorityNormal OrderPriority = "NORMAL"
	OrderPriorityHigh   OrderPriority = "HIGH"
	OrderPriorityRush   OrderPriority = "RUSH"
)

// Order holds the authoritative money fields for one customer purchase.
// total = subtotal + gst; balance = total - discount - sum(paid installments).
type Order struct {
	ID            int           `gorm:"primary_key" json:"id"`
	OrderNumber   string        `gorm:"size:50;uniqueIndex;not null" json:"order_number"`
	CustomerId    int           `gorm:"index;not null" json:"customer_id"`
	UserId        int           `gorm:"index;not null" json:"user_id"`
	Status        OrderStatus   `gorm:"type:enum('NEW','CONFIRMED','IN_PROGRESS','READY','DELIVERED','CANCELLED');default:NEW" json:"status"`
	Priority      OrderPriority `gorm:"type:enum('NORMAL','HIGH','RUSH');default:NORMAL" json:"priority"`
	OrderDate     time.Time     `gorm:"not null" json:"order_date"`
	DeliveryDate  *time.Time    `json:"delivery_date"`
	CompletedDate *time.Time    `json:"completed_date"`

	// Itemized cost breakdown.
	FabricCost              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fabric_cost"`
	FabricWastagePercent    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fabric_wastage_percent"`
	FabricWastageAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fabric_wastage_amount"`
	AccessoriesCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"accessories_cost"`
	StitchingCost           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stitching_cost"`
	StitchingTier           string          `gorm:"size:50" json:"stitching_tier"`
	WorkmanshipPremiums     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"workmanship_premiums"`
	DesignerConsultationFee decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"designer_consultation_fee"`

	// Workmanship premium sub-costs.
	IsHandStitched         *bool           `gorm:"default:false" json:"is_hand_stitched"`
	HandStitchingCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"hand_stitching_cost"`
	IsFullCanvas           *bool           `gorm:"default:false" json:"is_full_canvas"`
	FullCanvasCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"full_canvas_cost"`
	IsRushOrder            *bool           `gorm:"default:false" json:"is_rush_order"`
	RushOrderCost          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rush_order_cost"`
	HasComplexDesign       *bool           `gorm:"default:false" json:"has_complex_design"`
	ComplexDesignCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"complex_design_cost"`
	AdditionalFittings     int             `gorm:"default:0" json:"additional_fittings"`
	AdditionalFittingsCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"additional_fittings_cost"`
	HasPremiumLining       *bool           `gorm:"default:false" json:"has_premium_lining"`
	PremiumLiningCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"premium_lining_cost"`

	// Totals and GST.
	SubTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	GstRate        decimal.Decimal `gorm:"type:decimal(20,4);default:12" json:"gst_rate"`
	GstAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_amount"`
	Cgst           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst"`
	Sgst           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Discount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	DiscountReason string          `gorm:"size:255" json:"discount_reason"`
	AdvancePaid    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"advance_paid"`
	BalanceAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_amount"`

	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items        []OrderItem          `gorm:"foreignKey:OrderId" json:"items"`
	Installments []PaymentInstallment `gorm:"foreignKey:OrderId" json:"installments"`
}

type BodyType string

const (
	BodyTypeSlim    BodyType = "SLIM"
	BodyTypeRegular BodyType = "REGULAR"
	BodyTypeLarge   BodyType = "LARGE"
	BodyTypeXL      BodyType = "XL"
)

// OrderItem is one garment line. It is owned exclusively by one Order:
// moving an item to another order is delete-and-recreate, never a
// foreign-key repoint, so audit and identity stay clean.
type OrderItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrderId          int             `gorm:"index;not null" json:"order_id"`
	GarmentPatternId int             `gorm:"index;not null" json:"garment_pattern_id"`
	FabricStockId    int             `gorm:"index;not null" json:"fabric_stock_id"`
	Quantity         int             `gorm:"not null;default:1" json:"quantity"`
	BodyType         BodyType        `gorm:"type:enum('SLIM','REGULAR','LARGE','XL');default:REGULAR" json:"body_type"`
	EstimatedMeters  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_meters"`
	ActualMetersUsed decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actual_meters_used"`
	WastageMeters    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"wastage_meters"`
	PricePerUnit     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price_per_unit"`
	TotalPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	AssignedTailorId *int            `gorm:"index" json:"assigned_tailor_id"`
	Notes            string          `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order refuses further mutation.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}

// ReservedMeters is the quantity an item holds against its fabric stock.
func (item *OrderItem) ReservedMeters() decimal.Decimal {
	return item.EstimatedMeters.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// ItemsSubTotal sums the items' total prices.
func ItemsSubTotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.TotalPrice)
	}
	return sum
}

// RecalculateTotals rebuilds the order's derived money fields from its items
// and the already-paid installment sum. The advance is conventionally
// installment #1, so it is part of paidSum rather than a separate deduction.
func (o *Order) RecalculateTotals(items []OrderItem, paidSum decimal.Decimal) {
	o.SubTotal = utils.RoundMoney(ItemsSubTotal(items))
	o.GstAmount, o.Cgst, o.Sgst = utils.SplitGst(o.SubTotal, o.GstRate)
	o.TotalAmount = o.SubTotal.Add(o.GstAmount)
	o.BalanceAmount = o.TotalAmount.Sub(o.Discount).Sub(paidSum)
}

// GetOrderForUpdate loads an order with its items and installments under a
// row lock. Callers must be inside a transaction.
func GetOrderForUpdate(tx *gorm.DB, orderId int) (*Order, error) {
	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		Preload("Installments").
		First(&order, orderId).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, orderId int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).
		Preload("Items").
		Preload("Installments").
		First(&order, orderId).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ApplyOrderDiscount sets the order discount and recomputes the balance.
// Terminal orders are refused. Runs as one transaction with a history row.
func ApplyOrderDiscount(ctx context.Context, orderId int, amount decimal.Decimal, reason string) (*Order, error) {
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	order, err := GetOrderForUpdate(tx, orderId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.IsTerminal() {
		tx.Rollback()
		return nil, utils.ErrorOrderTerminal
	}

	paidSum := PaidInstallmentsSum(order.Installments)
	order.Discount = utils.RoundMoney(amount)
	order.DiscountReason = reason
	order.BalanceAmount = order.TotalAmount.Sub(order.Discount).Sub(paidSum)

	if err := tx.Model(&Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"discount":        order.Discount,
		"discount_reason": order.DiscountReason,
		"balance_amount":  order.BalanceAmount,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := CreateOrderHistory(tx, order.ID, OrderChangeTypePaymentUpdated,
		"Discount of "+order.Discount.StringFixed(2)+" applied: "+reason); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, utils.ErrorTransactionFailed
	}
	return order, nil
}
