package reconciler

import (
	"sort"

	"cinema-svc/models"

	"github.com/shopspring/decimal"
)

// Allocate spreads amount over the order items, oldest item first. Each item
// receives at most what is still uncovered of its price-at-order; whatever
// cannot be placed stays unallocated. The result does not depend on the order
// of items and carries no payment id.
func Allocate(items []models.OrderItem, covered map[int64]decimal.Decimal, amount decimal.Decimal) []models.PaymentItem {
	sorted := make([]models.OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	allocated := make([]models.PaymentItem, 0, len(sorted))
	leftover := amount
	for _, item := range sorted {
		if !leftover.IsPositive() {
			break
		}
		remaining := item.PriceAtOrder.Sub(covered[item.ID])
		if !remaining.IsPositive() {
			continue
		}
		share := decimal.Min(remaining, leftover)
		allocated = append(allocated, models.PaymentItem{OrderItemID: item.ID, PriceAtPayment: share})
		leftover = leftover.Sub(share)
	}
	return allocated
}
