package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
)

type OrderStatusUpdateInput struct {
	Status           models.OrderStatus `json:"status" binding:"required"`
	ActualMetersUsed *decimal.Decimal   `json:"actual_meters_used"`
	WastageMeters    *decimal.Decimal   `json:"wastage_meters"`
	Notes            string             `json:"notes"`
}

var validOrderStatuses = map[models.OrderStatus]bool{
	models.OrderStatusNew:        true,
	models.OrderStatusConfirmed:  true,
	models.OrderStatusInProgress: true,
	models.OrderStatusReady:      true,
	models.OrderStatusDelivered:  true,
	models.OrderStatusCancelled:  true,
}

// itemUsage resolves an item's actual draw on delivery. When an actual figure
// is supplied the wastage is the overrun beyond the estimate; otherwise the
// estimate is taken as used and wastage comes from the input (default zero).
func itemUsage(item *models.OrderItem, actualPerItem *decimal.Decimal, wastagePerItem *decimal.Decimal) (used decimal.Decimal, wastage decimal.Decimal) {
	used = item.ReservedMeters()
	if actualPerItem != nil {
		used = actualPerItem.Mul(decimal.NewFromInt(int64(item.Quantity)))
		wastage = used.Sub(item.ReservedMeters())
		if wastage.IsNegative() {
			wastage = decimal.Zero
		}
		return used, wastage
	}
	if wastagePerItem != nil {
		wastage = wastagePerItem.Mul(decimal.NewFromInt(int64(item.Quantity)))
	}
	return used, wastage
}

// UpdateOrderStatus moves an order through its life cycle. Delivery converts
// every item's reservation into consumption (ORDER_USED movements); cancel
// releases the holds. Plain stage moves only update the status and history.
func UpdateOrderStatus(ctx context.Context, clock utils.Clock, orderId int, input *OrderStatusUpdateInput) (*models.Order, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	if !validOrderStatuses[input.Status] {
		return nil, utils.ErrorInvalidReference
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	order, err := models.GetOrderForUpdate(tx, orderId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.IsTerminal() {
		tx.Rollback()
		return nil, utils.ErrorOrderTerminal
	}
	if order.Status == input.Status {
		tx.Rollback()
		return order, nil
	}

	switch input.Status {
	case models.OrderStatusDelivered:
		for i := range order.Items {
			item := &order.Items[i]
			used, wastage := itemUsage(item, input.ActualMetersUsed, input.WastageMeters)

			if err := tx.Model(&models.OrderItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
				"actual_meters_used": used,
				"wastage_meters":     wastage,
			}).Error; err != nil {
				tx.Rollback()
				config.LogError(logger, "orderStatusWorkflow.go", "UpdateOrderStatus", "UpdateItemUsage", item.ID, err)
				return nil, err
			}
			if _, err := models.ConsumeFabric(tx, item.FabricStockId, used.Add(wastage), item.ReservedMeters(), order.ID); err != nil {
				tx.Rollback()
				config.LogError(logger, "orderStatusWorkflow.go", "UpdateOrderStatus", "ConsumeFabric", item.FabricStockId, err)
				return nil, err
			}
		}
	case models.OrderStatusCancelled:
		for i := range order.Items {
			item := &order.Items[i]
			if _, err := models.ReleaseFabric(tx, item.FabricStockId, item.ReservedMeters(), order.ID); err != nil {
				tx.Rollback()
				config.LogError(logger, "orderStatusWorkflow.go", "UpdateOrderStatus", "ReleaseFabric", item.FabricStockId, err)
				return nil, err
			}
		}
	}

	updates := map[string]interface{}{"status": input.Status}
	if input.Notes != "" {
		updates["notes"] = input.Notes
	}
	if input.Status == models.OrderStatusDelivered || input.Status == models.OrderStatusCancelled {
		updates["completed_date"] = clock.Now()
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "orderStatusWorkflow.go", "UpdateOrderStatus", "UpdateOrder", order.ID, err)
		return nil, err
	}

	if err := models.CreateOrderHistory(tx, order.ID, models.OrderChangeTypeStatusChanged,
		fmt.Sprintf("Status changed from %s to %s", order.Status, input.Status)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "orderStatusWorkflow.go", "UpdateOrderStatus", "Commit", orderId, err)
		return nil, utils.ErrorTransactionFailed
	}

	return models.GetOrder(ctx, order.ID)
}
