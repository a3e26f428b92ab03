package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/stitchworks/tailor_backend/config"
	"bitbucket.org/stitchworks/tailor_backend/models"
	"bitbucket.org/stitchworks/tailor_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderSplitInput struct {
	ItemIds      []int      `json:"item_ids" binding:"required,min=1"`
	DeliveryDate *time.Time `json:"delivery_date"`
	Notes        string     `json:"notes"`
}

type OrderSplitResult struct {
	NewOrder      *models.Order `json:"new_order"`
	OriginalOrder *models.Order `json:"original_order"`
}

// splitPlan is the fully computed outcome of a split, built before any write.
// Both sides conserve every money field: split + remaining == original.
type splitPlan struct {
	Proportion decimal.Decimal

	MovedItems       []models.OrderItem
	NewOrder         models.Order
	OriginalAfter    models.Order
	NewSchedule      []models.PaymentInstallment
	OriginalSchedule []models.PaymentInstallment
}

// generateOrderNumber produces a new order number for the split-off order.
func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

// buildSplitPlan computes the whole split from loaded state. It is pure:
// no database access, no clock reads beyond the injected now.
func buildSplitPlan(order *models.Order, itemIds []int, deliveryDate *time.Time, notes string, now time.Time) (*splitPlan, error) {
	if len(order.Items) <= 1 {
		return nil, utils.ErrorNothingToSplit
	}

	selected := make(map[int]bool, len(itemIds))
	for _, id := range itemIds {
		selected[id] = true
	}
	if len(selected) == 0 {
		return nil, utils.ErrorUnknownItem
	}
	if len(selected) >= len(order.Items) {
		return nil, utils.ErrorCannotSplitEverything
	}

	itemById := make(map[int]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemById[order.Items[i].ID] = &order.Items[i]
	}
	for id := range selected {
		if itemById[id] == nil {
			return nil, utils.ErrorUnknownItem
		}
	}

	if order.IsTerminal() {
		return nil, utils.ErrorOrderTerminal
	}

	movedItems := make([]models.OrderItem, 0, len(selected))
	splitItemsTotal := decimal.Zero
	allItemsTotal := decimal.Zero
	for i := range order.Items {
		allItemsTotal = allItemsTotal.Add(order.Items[i].TotalPrice)
		if selected[order.Items[i].ID] {
			movedItems = append(movedItems, order.Items[i])
			splitItemsTotal = splitItemsTotal.Add(order.Items[i].TotalPrice)
		}
	}

	proportion := decimal.NewFromFloat(0.5)
	if allItemsTotal.IsPositive() {
		proportion = splitItemsTotal.DivRound(allItemsTotal, 8)
	}

	// Divide every cost component independently rather than deriving from the
	// subtotal, so rounding drift never compounds across components.
	splitFabricCost, remFabricCost := utils.AllocateAmount(order.FabricCost, proportion)
	splitWastage, remWastage := utils.AllocateAmount(order.FabricWastageAmount, proportion)
	splitAccessories, remAccessories := utils.AllocateAmount(order.AccessoriesCost, proportion)
	splitStitching, remStitching := utils.AllocateAmount(order.StitchingCost, proportion)
	splitDesignerFee, remDesignerFee := utils.AllocateAmount(order.DesignerConsultationFee, proportion)

	splitHandStitching, remHandStitching := utils.AllocateAmount(order.HandStitchingCost, proportion)
	splitFullCanvas, remFullCanvas := utils.AllocateAmount(order.FullCanvasCost, proportion)
	splitRush, remRush := utils.AllocateAmount(order.RushOrderCost, proportion)
	splitComplexDesign, remComplexDesign := utils.AllocateAmount(order.ComplexDesignCost, proportion)
	splitFittingsCost, remFittingsCost := utils.AllocateAmount(order.AdditionalFittingsCost, proportion)
	splitPremiumLining, remPremiumLining := utils.AllocateAmount(order.PremiumLiningCost, proportion)

	splitWorkmanship, remWorkmanship := utils.AllocateAmount(order.WorkmanshipPremiums, proportion)

	splitFittings := int(decimal.NewFromInt(int64(order.AdditionalFittings)).Mul(proportion).Floor().IntPart())
	remFittings := order.AdditionalFittings - splitFittings

	// New side subtotal comes from its component sum; GST and total derive
	// from that sum. The remaining side takes the exact complement so every
	// field conserves to the cent.
	splitSubTotal := splitFabricCost.
		Add(splitWastage).
		Add(splitAccessories).
		Add(splitStitching).
		Add(splitWorkmanship).
		Add(splitDesignerFee)
	remSubTotal := order.SubTotal.Sub(splitSubTotal)

	splitGst, splitCgst, splitSgst := utils.SplitGst(splitSubTotal, order.GstRate)
	splitTotal := splitSubTotal.Add(splitGst)

	remGst := order.GstAmount.Sub(splitGst)
	remCgst := order.Cgst.Sub(splitCgst)
	remSgst := order.Sgst.Sub(splitSgst)
	remTotal := order.TotalAmount.Sub(splitTotal)

	// Discount divides by each side's share of the original total, not by
	// item count.
	var splitDiscount, remDiscount decimal.Decimal
	if order.TotalAmount.IsPositive() {
		discountRatio := splitTotal.DivRound(order.TotalAmount, 8)
		splitDiscount, remDiscount = utils.AllocateAmount(order.Discount, discountRatio)
	} else {
		splitDiscount, remDiscount = utils.AllocateAmount(order.Discount, proportion)
	}

	// Advance retention is a business rule, not a proportional split: the
	// original order keeps the advance unless its remaining total can no
	// longer absorb it, in which case it is capped at its own total and the
	// excess moves to the new order.
	advance := order.AdvancePaid
	remAdvance := advance
	splitAdvance := decimal.Zero
	if remTotal.LessThan(advance) {
		remAdvance = remTotal
		splitAdvance = advance.Sub(remTotal)
	}

	newSchedule, origSchedule := divideInstallments(order.Installments, proportion, splitAdvance, remAdvance, now)

	// A moved advance with no installment rows still has to surface as a
	// recorded payment fact on the new order.
	if len(order.Installments) == 0 && splitAdvance.IsPositive() {
		paidDate := now
		mode := models.PaymentModeCash
		newSchedule = append(newSchedule, models.PaymentInstallment{
			InstallmentNumber: 1,
			InstallmentAmount: splitAdvance,
			PaidAmount:        splitAdvance,
			DueDate:           now,
			PaidDate:          &paidDate,
			PaymentMode:       &mode,
			Status:            models.InstallmentStatusPaid,
		})
	}

	newBalance := splitTotal.Sub(splitDiscount).Sub(models.PaidInstallmentsSum(newSchedule))
	remBalance := remTotal.Sub(remDiscount).Sub(models.PaidInstallmentsSum(origSchedule))
	if len(order.Installments) == 0 {
		newBalance = splitTotal.Sub(splitDiscount).Sub(splitAdvance)
		remBalance = remTotal.Sub(remDiscount).Sub(remAdvance)
	}

	newDeliveryDate := order.DeliveryDate
	if deliveryDate != nil {
		newDeliveryDate = deliveryDate
	}
	newNotes := notes
	if newNotes == "" {
		newNotes = fmt.Sprintf("Split from order %s", order.OrderNumber)
	}

	newOrder := models.Order{
		OrderNumber:  generateOrderNumber(now),
		CustomerId:   order.CustomerId,
		UserId:       order.UserId,
		Status:       order.Status,
		Priority:     order.Priority,
		OrderDate:    order.OrderDate,
		DeliveryDate: newDeliveryDate,

		FabricCost:              splitFabricCost,
		FabricWastagePercent:    order.FabricWastagePercent,
		FabricWastageAmount:     splitWastage,
		AccessoriesCost:         splitAccessories,
		StitchingCost:           splitStitching,
		StitchingTier:           order.StitchingTier,
		WorkmanshipPremiums:     splitWorkmanship,
		DesignerConsultationFee: splitDesignerFee,

		IsHandStitched:         order.IsHandStitched,
		HandStitchingCost:      splitHandStitching,
		IsFullCanvas:           order.IsFullCanvas,
		FullCanvasCost:         splitFullCanvas,
		IsRushOrder:            order.IsRushOrder,
		RushOrderCost:          splitRush,
		HasComplexDesign:       order.HasComplexDesign,
		ComplexDesignCost:      splitComplexDesign,
		AdditionalFittings:     splitFittings,
		AdditionalFittingsCost: splitFittingsCost,
		HasPremiumLining:       order.HasPremiumLining,
		PremiumLiningCost:      splitPremiumLining,

		SubTotal:       splitSubTotal,
		GstRate:        order.GstRate,
		GstAmount:      splitGst,
		Cgst:           splitCgst,
		Sgst:           splitSgst,
		TotalAmount:    splitTotal,
		Discount:       splitDiscount,
		DiscountReason: order.DiscountReason,
		AdvancePaid:    splitAdvance,
		BalanceAmount:  newBalance,
		Notes:          newNotes,
	}

	originalAfter := *order
	originalAfter.FabricCost = remFabricCost
	originalAfter.FabricWastageAmount = remWastage
	originalAfter.AccessoriesCost = remAccessories
	originalAfter.StitchingCost = remStitching
	originalAfter.WorkmanshipPremiums = remWorkmanship
	originalAfter.DesignerConsultationFee = remDesignerFee
	originalAfter.HandStitchingCost = remHandStitching
	originalAfter.FullCanvasCost = remFullCanvas
	originalAfter.RushOrderCost = remRush
	originalAfter.ComplexDesignCost = remComplexDesign
	originalAfter.AdditionalFittings = remFittings
	originalAfter.AdditionalFittingsCost = remFittingsCost
	originalAfter.PremiumLiningCost = remPremiumLining
	originalAfter.SubTotal = remSubTotal
	originalAfter.GstAmount = remGst
	originalAfter.Cgst = remCgst
	originalAfter.Sgst = remSgst
	originalAfter.TotalAmount = remTotal
	originalAfter.Discount = remDiscount
	originalAfter.AdvancePaid = remAdvance
	originalAfter.BalanceAmount = remBalance

	return &splitPlan{
		Proportion:       proportion,
		MovedItems:       movedItems,
		NewOrder:         newOrder,
		OriginalAfter:    originalAfter,
		NewSchedule:      newSchedule,
		OriginalSchedule: origSchedule,
	}, nil
}

// divideInstallments rebuilds both payment schedules from one. The advance
// (installment #1) carries the retention-rule amounts; every other row's
// amount and paid amount divide at the split proportion with aggregate drift
// corrected on the last row. Statuses are re-derived; CANCELLED is sticky.
func divideInstallments(installments []models.PaymentInstallment, proportion decimal.Decimal, splitAdvance decimal.Decimal, remAdvance decimal.Decimal, now time.Time) (newSide []models.PaymentInstallment, originalSide []models.PaymentInstallment) {
	if len(installments) == 0 {
		return nil, nil
	}

	sorted := make([]models.PaymentInstallment, len(installments))
	copy(sorted, installments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].InstallmentNumber < sorted[j].InstallmentNumber
	})

	var advanceRow *models.PaymentInstallment
	rest := make([]models.PaymentInstallment, 0, len(sorted))
	for i := range sorted {
		if sorted[i].InstallmentNumber == 1 && advanceRow == nil {
			advanceRow = &sorted[i]
		} else {
			rest = append(rest, sorted[i])
		}
	}

	restAmounts := make([]decimal.Decimal, len(rest))
	restPaid := make([]decimal.Decimal, len(rest))
	for i := range rest {
		restAmounts[i] = rest[i].InstallmentAmount
		restPaid[i] = rest[i].PaidAmount
	}
	amountParts, amountRemainders := utils.AllocateAmounts(restAmounts, proportion)
	paidParts, paidRemainders := utils.AllocateAmounts(restPaid, proportion)

	newSide = make([]models.PaymentInstallment, 0, len(sorted))
	originalSide = make([]models.PaymentInstallment, 0, len(sorted))

	if advanceRow != nil {
		origAdv := rebuildInstallment(advanceRow, remAdvance, remAdvance, now)
		originalSide = append(originalSide, origAdv)
		if splitAdvance.IsPositive() {
			newAdv := rebuildInstallment(advanceRow, splitAdvance, splitAdvance, now)
			newSide = append(newSide, newAdv)
		}
	}

	for i := range rest {
		originalSide = append(originalSide, rebuildInstallment(&rest[i], amountRemainders[i], paidRemainders[i], now))
		if amountParts[i].IsPositive() || paidParts[i].IsPositive() {
			newSide = append(newSide, rebuildInstallment(&rest[i], amountParts[i], paidParts[i], now))
		}
	}

	renumber(newSide)
	renumber(originalSide)
	return newSide, originalSide
}

// rebuildInstallment clones one source row with new amounts and a re-derived
// status. Identity is not preserved: schedules are rebuilt, never edited.
func rebuildInstallment(src *models.PaymentInstallment, amount decimal.Decimal, paid decimal.Decimal, now time.Time) models.PaymentInstallment {
	row := models.PaymentInstallment{
		InstallmentNumber: src.InstallmentNumber,
		InstallmentAmount: amount,
		PaidAmount:        paid,
		DueDate:           src.DueDate,
		PaymentMode:       src.PaymentMode,
		TransactionRef:    src.TransactionRef,
		Notes:             src.Notes,
		Status:            src.Status,
	}
	if paid.IsPositive() {
		row.PaidDate = src.PaidDate
	}
	row.Status = models.DeriveInstallmentStatus(src.Status, amount, paid, src.DueDate, now)
	return row
}

func renumber(schedule []models.PaymentInstallment) {
	for i := range schedule {
		schedule[i].InstallmentNumber = i + 1
	}
}

// SplitOrder extracts the selected line items into a new order, dividing
// every cost component, the discount, and the payment schedule between the
// two orders. All writes happen in one transaction.
func SplitOrder(ctx context.Context, clock utils.Clock, orderId int, input *OrderSplitInput) (*OrderSplitResult, error) {
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

	plan, err := buildSplitPlan(order, input.ItemIds, input.DeliveryDate, input.Notes, clock.Now())
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	newOrder := plan.NewOrder
	if err := tx.Create(&newOrder).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "orderSplitWorkflow.go", "SplitOrder", "CreateNewOrder", newOrder.OrderNumber, err)
		return nil, err
	}

	// Move selected items by delete-and-recreate so ownership history stays
	// unambiguous; measurement, fabric, and quantity fields carry verbatim.
	for _, moved := range plan.MovedItems {
		recreated := moved
		recreated.ID = 0
		recreated.OrderId = newOrder.ID
		if err := tx.Create(&recreated).Error; err != nil {
			tx.Rollback()
			config.LogError(logger, "orderSplitWorkflow.go", "SplitOrder", "RecreateItem", moved.ID, err)
			return nil, err
		}
		if err := tx.Delete(&models.OrderItem{}, moved.ID).Error; err != nil {
			tx.Rollback()
			config.LogError(logger, "orderSplitWorkflow.go", "SplitOrder", "DeleteMovedItem", moved.ID, err)
			return nil, err
		}
	}

	// Rebuild both schedules from the divided amounts.
	if err := tx.Where("order_id = ?", order.ID).Delete(&models.PaymentInstallment{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range plan.OriginalSchedule {
		row := plan.OriginalSchedule[i]
		row.ID = 0
		row.OrderId = order.ID
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	for i := range plan.NewSchedule {
		row := plan.NewSchedule[i]
		row.ID = 0
		row.OrderId = newOrder.ID
		if err := tx.Create(&row).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	originalAfter := plan.OriginalAfter
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"fabric_cost":               originalAfter.FabricCost,
		"fabric_wastage_amount":     originalAfter.FabricWastageAmount,
		"accessories_cost":          originalAfter.AccessoriesCost,
		"stitching_cost":            originalAfter.StitchingCost,
		"workmanship_premiums":      originalAfter.WorkmanshipPremiums,
		"designer_consultation_fee": originalAfter.DesignerConsultationFee,
		"hand_stitching_cost":       originalAfter.HandStitchingCost,
		"full_canvas_cost":          originalAfter.FullCanvasCost,
		"rush_order_cost":           originalAfter.RushOrderCost,
		"complex_design_cost":       originalAfter.ComplexDesignCost,
		"additional_fittings":       originalAfter.AdditionalFittings,
		"additional_fittings_cost":  originalAfter.AdditionalFittingsCost,
		"premium_lining_cost":       originalAfter.PremiumLiningCost,
		"sub_total":                 originalAfter.SubTotal,
		"gst_amount":                originalAfter.GstAmount,
		"cgst":                      originalAfter.Cgst,
		"sgst":                      originalAfter.Sgst,
		"total_amount":              originalAfter.TotalAmount,
		"discount":                  originalAfter.Discount,
		"advance_paid":              originalAfter.AdvancePaid,
		"balance_amount":            originalAfter.BalanceAmount,
	}).Error; err != nil {
		tx.Rollback()
		config.LogError(logger, "orderSplitWorkflow.go", "SplitOrder", "UpdateOriginalOrder", order.ID, err)
		return nil, err
	}

	if err := models.CreateOrderHistory(tx, order.ID, models.OrderChangeTypeOrderSplit,
		fmt.Sprintf("Split %d item(s) to new order %s", len(plan.MovedItems), newOrder.OrderNumber)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.CreateOrderHistory(tx, newOrder.ID, models.OrderChangeTypeOrderCreated,
		fmt.Sprintf("Created from split of order %s", order.OrderNumber)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "orderSplitWorkflow.go", "SplitOrder", "Commit", orderId, err)
		return nil, utils.ErrorTransactionFailed
	}

	updatedOriginal, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	createdOrder, err := models.GetOrder(ctx, newOrder.ID)
	if err != nil {
		return nil, err
	}
	return &OrderSplitResult{NewOrder: createdOrder, OriginalOrder: updatedOriginal}, nil
}
