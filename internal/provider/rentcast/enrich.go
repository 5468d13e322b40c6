package rentcast

import (
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Underwriting assumptions for the investment metrics. These mirror the
// figures the dashboard has always shown: 20% down, operating expenses at
// 30% of rent, and a monthly mortgage payment of 0.6% of the loan amount.
const (
	downPaymentPct    = "0.20"
	expenseRatio      = "0.30"
	mortgageRatePerMo = "0.006"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

var roundCtx = func() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}()

// Enrich attaches investment metrics, a market score, and a condition
// assessment to a property. Enrichment is best-effort: when the inputs are
// unusable the raw property is returned untouched.
func Enrich(p *Property, price, monthlyRent float64) *Property {
	if p == nil {
		return nil
	}

	enriched := *p
	enrichment := &Enrichment{
		Condition: AssessCondition(p.YearBuilt, time.Now().Year()),
	}
	if price > 0 && monthlyRent > 0 {
		if metrics, err := ComputeInvestmentMetrics(price, monthlyRent); err == nil {
			enrichment.Investment = metrics
		}
		enrichment.MarketScore = MarketScore(price, monthlyRent, p.YearBuilt, p.SquareFootage, time.Now().Year())
	}
	enriched.Enrichment = enrichment
	return &enriched
}

// ComputeInvestmentMetrics derives the buy-and-hold numbers from a purchase
// price and monthly rent. All arithmetic is decimal; money rounds to cents
// and percentages to two places, half-up.
func ComputeInvestmentMetrics(price, monthlyRent float64) (*InvestmentMetrics, error) {
	if price <= 0 || monthlyRent <= 0 {
		return nil, fmt.Errorf("price and rent must be positive: price=%g rent=%g", price, monthlyRent)
	}

	priceD, err := toDecimal(price)
	if err != nil {
		return nil, err
	}
	rentD, err := toDecimal(monthlyRent)
	if err != nil {
		return nil, err
	}

	var (
		twelve      = apd.New(12, 0)
		hundred     = apd.New(100, 0)
		downPct     = mustDecimal(downPaymentPct)
		expRatio    = mustDecimal(expenseRatio)
		mortgageMo  = mustDecimal(mortgageRatePerMo)
		one         = apd.New(1, 0)
		annualRent  apd.Decimal
		grossYield  apd.Decimal
		expenses    apd.Decimal
		noiMonthly  apd.Decimal
		noiAnnual   apd.Decimal
		capRate     apd.Decimal
		downPayment apd.Decimal
		loanPct     apd.Decimal
		loan        apd.Decimal
		mortgage    apd.Decimal
		cashFlowMo  apd.Decimal
		cashFlowYr  apd.Decimal
		cashOnCash  apd.Decimal
		tmp         apd.Decimal
	)

	// annualRent = rent * 12; grossYield = annualRent / price * 100
	decimalCtx.Mul(&annualRent, rentD, twelve)
	decimalCtx.Quo(&tmp, &annualRent, priceD)
	decimalCtx.Mul(&grossYield, &tmp, hundred)

	// expenses = rent * 0.30; NOI = (rent - expenses) * 12
	decimalCtx.Mul(&expenses, rentD, expRatio)
	decimalCtx.Sub(&noiMonthly, rentD, &expenses)
	decimalCtx.Mul(&noiAnnual, &noiMonthly, twelve)

	// capRate = NOI / price * 100
	decimalCtx.Quo(&tmp, &noiAnnual, priceD)
	decimalCtx.Mul(&capRate, &tmp, hundred)

	// downPayment = price * 0.20; loan = price * 0.80
	decimalCtx.Mul(&downPayment, priceD, downPct)
	decimalCtx.Sub(&loanPct, one, downPct)
	decimalCtx.Mul(&loan, priceD, &loanPct)

	// mortgage = loan * 0.006 per month
	decimalCtx.Mul(&mortgage, &loan, mortgageMo)

	// cashFlow = rent - expenses - mortgage
	decimalCtx.Sub(&cashFlowMo, &noiMonthly, &mortgage)
	decimalCtx.Mul(&cashFlowYr, &cashFlowMo, twelve)

	// cashOnCash = annual cash flow / down payment * 100
	decimalCtx.Quo(&tmp, &cashFlowYr, &downPayment)
	decimalCtx.Mul(&cashOnCash, &tmp, hundred)

	return &InvestmentMetrics{
		GrossYieldPct:   roundCents(&grossYield),
		CapRatePct:      roundCents(&capRate),
		CashOnCashPct:   roundCents(&cashOnCash),
		DownPayment:     roundCents(&downPayment),
		MonthlyExpenses: roundCents(&expenses),
		MonthlyMortgage: roundCents(&mortgage),
		MonthlyCashFlow: roundCents(&cashFlowMo),
		AnnualCashFlow:  roundCents(&cashFlowYr),
	}, nil
}

// MarketScore is a 1..100 heuristic over rent-to-price ratio, age, and size.
func MarketScore(price, monthlyRent float64, yearBuilt, squareFootage, currentYear int) int {
	score := 50

	if price > 0 && monthlyRent > 0 {
		ratio := monthlyRent * 12 / price
		switch {
		case ratio >= 0.08:
			score += 20
		case ratio >= 0.06:
			score += 10
		case ratio < 0.04:
			score -= 10
		}
	}

	if yearBuilt > 0 {
		age := currentYear - yearBuilt
		switch {
		case age < 10:
			score += 15
		case age < 30:
			score += 5
		case age > 60:
			score -= 10
		}
	}

	switch {
	case squareFootage >= 2000:
		score += 10
	case squareFootage >= 1200:
		score += 5
	case squareFootage > 0 && squareFootage < 800:
		score -= 5
	}

	if score < 1 {
		score = 1
	}
	if score > 100 {
		score = 100
	}
	return score
}

// AssessCondition bands a property's likely condition by age. Without an
// inspection this is a rough prior, not a judgment.
func AssessCondition(yearBuilt, currentYear int) string {
	if yearBuilt <= 0 {
		return "unknown"
	}
	age := currentYear - yearBuilt
	switch {
	case age < 5:
		return "new"
	case age < 15:
		return "excellent"
	case age < 30:
		return "good"
	case age < 50:
		return "fair"
	default:
		return "needs_assessment"
	}
}

func toDecimal(f float64) (*apd.Decimal, error) {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return nil, fmt.Errorf("invalid decimal input %g: %w", f, err)
	}
	return &d, nil
}

func mustDecimal(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// roundCents quantizes to two decimal places, half-up, and returns a float
// for JSON serialization.
func roundCents(d *apd.Decimal) float64 {
	var rounded apd.Decimal
	roundCtx.Quantize(&rounded, d, -2)
	f, _ := rounded.Float64()
	return f
}
