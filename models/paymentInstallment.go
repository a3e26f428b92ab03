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

type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "PENDING"
	InstallmentStatusPartial   InstallmentStatus = "PARTIAL"
	InstallmentStatusPaid      InstallmentStatus = "PAID"
	InstallmentStatusOverdue   InstallmentStatus = "OVERDUE"
	InstallmentStatusCancelled InstallmentStatus = "CANCELLED"
)

type PaymentMode string

const (
	PaymentModeCash        PaymentMode = "CASH"
	PaymentModeUpi         PaymentMode = "UPI"
	PaymentModeCard        PaymentMode = "CARD"
	PaymentModeBankTransfer PaymentMode = "BANK_TRANSFER"
	PaymentModeCheque      PaymentMode = "CHEQUE"
	PaymentModeNetBanking  PaymentMode = "NET_BANKING"
)

// PaymentInstallment is one scheduled payment within an order's plan.
// Installment #1 is conventionally the advance. The schedule is rebuilt, not
// edited, whenever the order's total changes structurally (e.g. a split).
type PaymentInstallment struct {
	ID                int               `gorm:"primary_key" json:"id"`
	OrderId           int               `gorm:"index;not null" json:"order_id"`
	InstallmentNumber int               `gorm:"not null" json:"installment_number"`
	InstallmentAmount decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"installment_amount"`
	PaidAmount        decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	DueDate           time.Time         `gorm:"not null" json:"due_date"`
	PaidDate          *time.Time        `json:"paid_date"`
	PaymentMode       *PaymentMode      `gorm:"type:enum('CASH','UPI','CARD','BANK_TRANSFER','CHEQUE','NET_BANKING')" json:"payment_mode"`
	Status            InstallmentStatus `gorm:"type:enum('PENDING','PARTIAL','PAID','OVERDUE','CANCELLED');default:PENDING" json:"status"`
	TransactionRef    string            `gorm:"size:100" json:"transaction_ref"`
	Notes             string            `gorm:"type:text" json:"notes"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeriveInstallmentStatus recomputes the status from amounts and due date.
// CANCELLED is sticky and never re-derived away.
func DeriveInstallmentStatus(current InstallmentStatus, installmentAmount decimal.Decimal, paidAmount decimal.Decimal, dueDate time.Time, now time.Time) InstallmentStatus {
	if current == InstallmentStatusCancelled {
		return InstallmentStatusCancelled
	}
	if paidAmount.IsZero() {
		if dueDate.Before(now) {
			return InstallmentStatusOverdue
		}
		return InstallmentStatusPending
	}
	if paidAmount.GreaterThanOrEqual(installmentAmount) {
		return InstallmentStatusPaid
	}
	return InstallmentStatusPartial
}

// PaidInstallmentsSum totals the paid amounts across a schedule.
// Cancelled rows contribute nothing.
func PaidInstallmentsSum(installments []PaymentInstallment) decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range installments {
		if inst.Status == InstallmentStatusCancelled {
			continue
		}
		sum = sum.Add(inst.PaidAmount)
	}
	return sum
}

type InstallmentPaymentInput struct {
	PaidAmount     decimal.Decimal `json:"paid_amount" binding:"required"`
	PaidDate       *time.Time      `json:"paid_date"`
	PaymentMode    *PaymentMode    `json:"payment_mode"`
	TransactionRef string          `json:"transaction_ref"`
	Notes          string          `json:"notes"`
}

// RecordInstallmentPayment records a payment fact against one installment,
// re-derives its status and the order balance, and appends history. The
// "payment" is a recorded fact, not a gateway settlement.
func RecordInstallmentPayment(ctx context.Context, clock utils.Clock, installmentId int, input *InstallmentPaymentInput) (*PaymentInstallment, error) {
	db := config.GetDB()

	if input.PaidAmount.IsNegative() {
		return nil, utils.ErrorInvalidReference
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var installment PaymentInstallment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&installment, installmentId).Error
	if err == gorm.ErrRecordNotFound {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	order, err := GetOrderForUpdate(tx, installment.OrderId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.IsTerminal() {
		tx.Rollback()
		return nil, utils.ErrorOrderTerminal
	}

	installment.PaidAmount = utils.RoundMoney(input.PaidAmount)
	installment.PaidDate = input.PaidDate
	if input.PaymentMode != nil {
		installment.PaymentMode = input.PaymentMode
	}
	if input.TransactionRef != "" {
		installment.TransactionRef = input.TransactionRef
	}
	if input.Notes != "" {
		installment.Notes = input.Notes
	}
	installment.Status = DeriveInstallmentStatus(installment.Status, installment.InstallmentAmount, installment.PaidAmount, installment.DueDate, clock.Now())

	if err := tx.Save(&installment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Refresh the order balance against the updated schedule.
	for i := range order.Installments {
		if order.Installments[i].ID == installment.ID {
			order.Installments[i] = installment
		}
	}
	paidSum := PaidInstallmentsSum(order.Installments)
	balance := order.TotalAmount.Sub(order.Discount).Sub(paidSum)
	updates := map[string]interface{}{"balance_amount": balance}
	if installment.InstallmentNumber == 1 {
		updates["advance_paid"] = installment.PaidAmount
	}
	if err := tx.Model(&Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := CreateOrderHistory(tx, order.ID, OrderChangeTypePaymentUpdated,
		"Payment of "+installment.PaidAmount.StringFixed(2)+" recorded on installment #"+
			decimal.NewFromInt(int64(installment.InstallmentNumber)).String()); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, utils.ErrorTransactionFailed
	}
	return &installment, nil
}
