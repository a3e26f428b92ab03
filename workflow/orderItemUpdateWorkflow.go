package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderItemUpdateInput struct {
	GarmentPatternId *int    `json:"garment_pattern_id"`
	FabricStockId    *int    `json:"fabric_stock_id"`
	Quantity         *int    `json:"quantity" binding:"omitempty,gt=0"`
	AssignedTailorId *int    `json:"assigned_tailor_id"`
	Notes            *string `json:"notes"`
}

type OrderItemUpdateResult struct {
	UpdatedItem  *models.OrderItem `json:"updated_item"`
	UpdatedOrder *models.Order     `json:"updated_order"`
}

// legacyEstimateForPattern re-derives estimated meters when the garment
// pattern on a line changes. Kept for backward compatibility: current callers
// never change the pattern after creation, and its interaction with accessory
// cost retention was never exercised in production.
func legacyEstimateForPattern(pattern *models.GarmentPattern, bodyType models.BodyType) decimal.Decimal {
	return pattern.EstimatedMetersFor(bodyType)
}

// tailorAssignmentChanged reports whether a requested assignment differs from
// the item's current one. Zero requests an unassign.
func tailorAssignmentChanged(current *int, requested int) bool {
	if requested == 0 {
		return current != nil
	}
	return current == nil || *current != requested
}

// fabricSubstitutionPricing reprices a line for a fabric change. The
// non-fabric share of the old total (accessories) is held constant; only the
// fabric share is recomputed at the new unit price.
func fabricSubstitutionPricing(
	oldEstimatedMeters decimal.Decimal, oldQuantity int, oldUnitPrice decimal.Decimal, oldTotalPrice decimal.Decimal,
	newEstimatedMeters decimal.Decimal, newQuantity int, newUnitPrice decimal.Decimal,
) (totalPrice decimal.Decimal, pricePerUnit decimal.Decimal, heldAccessoryCost decimal.Decimal) {
	oldFabricCost := oldEstimatedMeters.Mul(oldUnitPrice).Mul(decimal.NewFromInt(int64(oldQuantity)))
	heldAccessoryCost = oldTotalPrice.Sub(oldFabricCost)

	newFabricCost := newEstimatedMeters.Mul(newUnitPrice).Mul(decimal.NewFromInt(int64(newQuantity)))
	totalPrice = utils.RoundMoney(newFabricCost.Add(heldAccessoryCost))
	pricePerUnit = totalPrice.DivRound(decimal.NewFromInt(int64(newQuantity)), 2)
	return totalPrice, pricePerUnit, heldAccessoryCost
}

// UpdateOrderItem applies a garment/fabric substitution or a plain field edit
// to one line item, keeping the order totals, the fabric reservation ledger,
// and the audit history consistent. Everything runs in one transaction; any
// failure leaves stock reservations, item, and order in their pre-call state.
func UpdateOrderItem(ctx context.Context, orderId int, itemId int, input *OrderItemUpdateInput) (*OrderItemUpdateResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()

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

	var item *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == itemId {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	oldEstimatedMeters := item.EstimatedMeters
	oldQuantity := item.Quantity
	oldReservedMeters := item.ReservedMeters()
	oldFabricStockId := item.FabricStockId

	var garmentChanged, fabricChanged, quantityChanged, tailorChanged, notesChanged, priceChanged bool
	changeDescriptions := make([]string, 0, 3)

	// Legacy path: garment pattern substitution.
	if input.GarmentPatternId != nil && *input.GarmentPatternId != item.GarmentPatternId {
		var pattern models.GarmentPattern
		if err := tx.First(&pattern, *input.GarmentPatternId).Error; err != nil {
			tx.Rollback()
			if err == gorm.ErrRecordNotFound {
				return nil, utils.ErrorInvalidReference
			}
			return nil, err
		}
		item.GarmentPatternId = pattern.ID
		item.EstimatedMeters = legacyEstimateForPattern(&pattern, item.BodyType)
		garmentChanged = true
		changeDescriptions = append(changeDescriptions, fmt.Sprintf("Garment pattern changed to %s", pattern.Name))
	}

	if input.Quantity != nil && *input.Quantity != item.Quantity {
		if *input.Quantity <= 0 {
			tx.Rollback()
			return nil, utils.ErrorInvalidReference
		}
		item.Quantity = *input.Quantity
		quantityChanged = true
	}

	if input.FabricStockId != nil && *input.FabricStockId != item.FabricStockId {
		oldStock, err := models.GetFabricStockForUpdate(tx, oldFabricStockId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		newStock, err := models.GetFabricStockForUpdate(tx, *input.FabricStockId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}

		newReservedMeters := item.ReservedMeters()
		if oldReservedMeters.Equal(newReservedMeters) {
			if _, _, err := models.TransferFabricReservation(tx, oldStock.ID, newStock.ID, newReservedMeters, order.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
		} else {
			// Meters changed in the same call; release what was actually held
			// and reserve the new requirement. The availability check runs
			// before either counter moves so a rejection leaves both records
			// untouched.
			if newStock.Reserved.Add(newReservedMeters).GreaterThan(newStock.CurrentStock) {
				tx.Rollback()
				return nil, utils.ErrorInsufficientAvailableStock
			}
			if _, err := models.ReleaseFabric(tx, oldStock.ID, oldReservedMeters, order.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
			if _, err := models.ReserveFabric(tx, newStock.ID, newReservedMeters, order.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
		}

		totalPrice, pricePerUnit, _ := fabricSubstitutionPricing(
			oldEstimatedMeters, oldQuantity, oldStock.UnitPrice, item.TotalPrice,
			item.EstimatedMeters, item.Quantity, newStock.UnitPrice,
		)
		item.FabricStockId = newStock.ID
		item.TotalPrice = totalPrice
		item.PricePerUnit = pricePerUnit
		fabricChanged = true
		priceChanged = true
		changeDescriptions = append(changeDescriptions,
			fmt.Sprintf("Fabric changed from %s (%s) to %s (%s)", oldStock.Name, oldStock.Color, newStock.Name, newStock.Color))
	} else if quantityChanged || garmentChanged {
		// Meters held against the same stock changed; adjust the reservation
		// so the ledger keeps matching the line.
		newReservedMeters := item.ReservedMeters()
		delta := newReservedMeters.Sub(oldReservedMeters)
		if delta.IsPositive() {
			if _, err := models.ReserveFabric(tx, item.FabricStockId, delta, order.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
		} else if delta.IsNegative() {
			if _, err := models.ReleaseFabric(tx, item.FabricStockId, delta.Neg(), order.ID); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if quantityChanged && !fabricChanged {
		item.TotalPrice = utils.RoundMoney(item.PricePerUnit.Mul(decimal.NewFromInt(int64(item.Quantity))))
		priceChanged = true
	}

	if input.AssignedTailorId != nil && tailorAssignmentChanged(item.AssignedTailorId, *input.AssignedTailorId) {
		if *input.AssignedTailorId == 0 {
			item.AssignedTailorId = nil
		} else {
			tailor, err := models.GetTailor(tx, *input.AssignedTailorId)
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			item.AssignedTailorId = &tailor.ID
		}
		tailorChanged = true
		changeDescriptions = append(changeDescriptions, "Tailor assignment updated")
	}

	if input.Notes != nil && *input.Notes != item.Notes {
		item.Notes = *input.Notes
		notesChanged = true
		changeDescriptions = append(changeDescriptions, "Notes updated")
	}

	if err := tx.Save(item).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "orderItemUpdateWorkflow.go", "UpdateOrderItem", "SaveItem", item, err)
		return nil, err
	}

	if priceChanged {
		oldTotal := order.TotalAmount
		order.RecalculateTotals(order.Items, models.PaidInstallmentsSum(order.Installments))
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"sub_total":      order.SubTotal,
			"gst_amount":     order.GstAmount,
			"cgst":           order.Cgst,
			"sgst":           order.Sgst,
			"total_amount":   order.TotalAmount,
			"balance_amount": order.BalanceAmount,
		}).Error; err != nil {
			tx.Rollback()
			config.LogError(logger, "orderItemUpdateWorkflow.go", "UpdateOrderItem", "UpdateOrderTotals", order.ID, err)
			return nil, err
		}
		delta := order.TotalAmount.Sub(oldTotal)
		if !delta.IsZero() {
			changeDescriptions = append(changeDescriptions, fmt.Sprintf("Order total changed by %s", delta.StringFixed(2)))
		}
	}

	if garmentChanged || fabricChanged || priceChanged || tailorChanged || notesChanged {
		if err := models.CreateOrderHistory(tx, order.ID, models.OrderChangeTypeItemUpdated, strings.Join(changeDescriptions, "; ")); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "orderItemUpdateWorkflow.go", "UpdateOrderItem", "Commit", orderId, err)
		return nil, utils.ErrorTransactionFailed
	}

	return &OrderItemUpdateResult{UpdatedItem: item, UpdatedOrder: order}, nil
}
