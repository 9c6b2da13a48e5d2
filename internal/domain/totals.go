package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half-even to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// LineTotal is round2(unitPrice * quantity * (1 - discountPct/100)).
func LineTotal(unitPrice decimal.Decimal, quantity int, discountPct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discountPct.Div(hundred))
	return Round2(unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Mul(factor))
}

type SaleTotals struct {
	Lines    []decimal.Decimal
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeSaleTotals is pure; the result does not depend on item order.
func ComputeSaleTotals(items []SaleItem, tax, discount decimal.Decimal) SaleTotals {
	totals := SaleTotals{
		Lines:    make([]decimal.Decimal, len(items)),
		Subtotal: decimal.Zero,
		Tax:      Round2(tax),
		Discount: Round2(discount),
	}
	for i, item := range items {
		line := LineTotal(Round2(item.UnitPrice), item.Quantity, item.ItemDiscountPct)
		totals.Lines[i] = line
		totals.Subtotal = totals.Subtotal.Add(line)
	}
	totals.Subtotal = Round2(totals.Subtotal)
	totals.Total = Round2(decimal.Max(decimal.Zero, totals.Subtotal.Add(totals.Tax).Sub(totals.Discount)))
	return totals
}

type PurchaseTotals struct {
	Lines         []decimal.Decimal
	Subtotal      decimal.Decimal
	GrandTotal    decimal.Decimal
	AmountPaid    decimal.Decimal
	AmountDue     decimal.Decimal
	PaymentStatus PaymentStatus
}

func ComputePurchaseTotals(items []PurchaseItem, orderTax, discount, shipping, amountPaid decimal.Decimal) PurchaseTotals {
	totals := PurchaseTotals{
		Lines:      make([]decimal.Decimal, len(items)),
		Subtotal:   decimal.Zero,
		AmountPaid: Round2(amountPaid),
	}
	for i, item := range items {
		line := LineTotal(Round2(item.UnitCost), item.Quantity, decimal.Zero)
		totals.Lines[i] = line
		totals.Subtotal = totals.Subtotal.Add(line)
	}
	totals.Subtotal = Round2(totals.Subtotal)
	gross := totals.Subtotal.Add(Round2(orderTax)).Sub(Round2(discount)).Add(Round2(shipping))
	totals.GrandTotal = Round2(decimal.Max(decimal.Zero, gross))
	totals.AmountDue = Round2(decimal.Max(decimal.Zero, totals.GrandTotal.Sub(totals.AmountPaid)))

	switch {
	case totals.AmountDue.IsZero():
		totals.PaymentStatus = PaymentPaid
	case totals.AmountPaid.IsPositive():
		totals.PaymentStatus = PaymentPartial
	default:
		totals.PaymentStatus = PaymentUnpaid
	}
	return totals
}
