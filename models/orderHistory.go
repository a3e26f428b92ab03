package models

import (
	"errors"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/utils"
	"gorm.io/gorm"
)

type OrderChangeType string

const (
	OrderChangeTypeOrderCreated   OrderChangeType = "ORDER_CREATED"
	OrderChangeTypeOrderSplit     OrderChangeType = "ORDER_SPLIT"
	OrderChangeTypeItemUpdated    OrderChangeType = "ITEM_UPDATED"
	OrderChangeTypePaymentUpdated OrderChangeType = "PAYMENT_UPDATED"
	OrderChangeTypeStatusChanged  OrderChangeType = "STATUS_CHANGED"
)

// OrderHistory is the append-only description of what changed and who changed
// it. It is written alongside every mutation and never read by calculation
// logic.
type OrderHistory struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderId     int             `gorm:"index;not null" json:"order_id"`
	UserId      int             `gorm:"index;not null" json:"user_id"`
	UserName    string          `gorm:"size:100" json:"user_name"`
	ChangeType  OrderChangeType `gorm:"size:50;not null" json:"change_type"`
	Description string          `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// CreateOrderHistory appends one history row, pulling the actor from the
// transaction's context.
func CreateOrderHistory(tx *gorm.DB, orderId int, changeType OrderChangeType, description string) error {
	ctx := tx.Statement.Context
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)

	history := OrderHistory{
		OrderId:     orderId,
		UserId:      userId,
		UserName:    userName,
		ChangeType:  changeType,
		Description: description,
	}
	return tx.Create(&history).Error
}
