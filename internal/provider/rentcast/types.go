// Package rentcast is the resilient client for the RentCast property-data
// API: classified errors, bounded retries with jittered backoff, an outbound
// rate cap shared by all callers, and response enrichment.
package rentcast

import "encoding/json"

// Property is one record from the /properties endpoint. Fields mirror the
// upstream schema; unknown fields are preserved in Raw for dashboards that
// render provider data verbatim.
type Property struct {
	ID               string  `json:"id,omitempty"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	AddressLine1     string  `json:"addressLine1,omitempty"`
	City             string  `json:"city,omitempty"`
	State            string  `json:"state,omitempty"`
	ZipCode          string  `json:"zipCode,omitempty"`
	County           string  `json:"county,omitempty"`
	Latitude         float64 `json:"latitude,omitempty"`
	Longitude        float64 `json:"longitude,omitempty"`
	PropertyType     string  `json:"propertyType,omitempty"`
	Bedrooms         float64 `json:"bedrooms,omitempty"`
	Bathrooms        float64 `json:"bathrooms,omitempty"`
	SquareFootage    int     `json:"squareFootage,omitempty"`
	LotSize          int     `json:"lotSize,omitempty"`
	YearBuilt        int     `json:"yearBuilt,omitempty"`
	LastSalePrice    float64 `json:"lastSalePrice,omitempty"`
	LastSaleDate     string  `json:"lastSaleDate,omitempty"`

	Raw json.RawMessage `json:"-"`

	// Enrichment is computed locally, never sent by the provider.
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// RentEstimate is the /avm/rent/long-term response.
type RentEstimate struct {
	Rent          float64          `json:"rent"`
	RentRangeLow  float64          `json:"rentRangeLow,omitempty"`
	RentRangeHigh float64          `json:"rentRangeHigh,omitempty"`
	Latitude      float64          `json:"latitude,omitempty"`
	Longitude     float64          `json:"longitude,omitempty"`
	Comparables   []RentComparable `json:"comparables,omitempty"`
}

// RentComparable is one comparable rental listing.
type RentComparable struct {
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	Rent             float64 `json:"price,omitempty"`
	Bedrooms         float64 `json:"bedrooms,omitempty"`
	Bathrooms        float64 `json:"bathrooms,omitempty"`
	SquareFootage    int     `json:"squareFootage,omitempty"`
	Distance         float64 `json:"distance,omitempty"`
	Correlation      float64 `json:"correlation,omitempty"`
}

// ValueEstimate is the /avm/value response, including comparable sales.
type ValueEstimate struct {
	Price          float64          `json:"price"`
	PriceRangeLow  float64          `json:"priceRangeLow,omitempty"`
	PriceRangeHigh float64          `json:"priceRangeHigh,omitempty"`
	Comparables    []SaleComparable `json:"comparables,omitempty"`
}

// SaleComparable is one comparable sale.
type SaleComparable struct {
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	Price            float64 `json:"price,omitempty"`
	Bedrooms         float64 `json:"bedrooms,omitempty"`
	Bathrooms        float64 `json:"bathrooms,omitempty"`
	SquareFootage    int     `json:"squareFootage,omitempty"`
	YearBuilt        int     `json:"yearBuilt,omitempty"`
	Distance         float64 `json:"distance,omitempty"`
	Correlation      float64 `json:"correlation,omitempty"`
}

// Enrichment is the locally-computed analysis attached to a property when
// both a price and a rent figure are known.
type Enrichment struct {
	Investment  *InvestmentMetrics `json:"investment,omitempty"`
	MarketScore int                `json:"marketScore,omitempty"`
	Condition   string             `json:"condition,omitempty"`
}

// InvestmentMetrics are the standard buy-and-hold numbers, rounded to cents
// (yields to two decimal places).
type InvestmentMetrics struct {
	GrossYieldPct   float64 `json:"grossYieldPct"`
	CapRatePct      float64 `json:"capRatePct"`
	CashOnCashPct   float64 `json:"cashOnCashPct"`
	DownPayment     float64 `json:"downPayment"`
	MonthlyExpenses float64 `json:"monthlyExpenses"`
	MonthlyMortgage float64 `json:"monthlyMortgage"`
	MonthlyCashFlow float64 `json:"monthlyCashFlow"`
	AnnualCashFlow  float64 `json:"annualCashFlow"`
}
