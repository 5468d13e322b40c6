package property

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vipcre/portal/internal/apierr"
	"github.com/vipcre/portal/internal/provider/rentcast"
)

// SearchRequest asks for property records at an address.
type SearchRequest struct {
	Address string `json:"address" validate:"required,min=5"`
	City    string `json:"city" validate:"omitempty,min=2"`
	State   string `json:"state" validate:"omitempty,len=2,alpha"`
	ZipCode string `json:"zip_code" validate:"omitempty,len=5,numeric"`
}

func (r *SearchRequest) normalize() {
	r.Address = strings.TrimSpace(r.Address)
	r.City = strings.TrimSpace(r.City)
	r.State = strings.ToUpper(strings.TrimSpace(r.State))
	r.ZipCode = strings.TrimSpace(r.ZipCode)
}

// RentEstimateRequest asks for a long-term rent estimate. When PurchasePrice
// is set the result also carries an investment analysis built from the
// estimated rent.
type RentEstimateRequest struct {
	Address       string  `json:"address" validate:"required,min=5"`
	PropertyType  string  `json:"property_type" validate:"omitempty,min=2"`
	Bedrooms      float64 `json:"bedrooms" validate:"omitempty,gte=0,lte=50"`
	Bathrooms     float64 `json:"bathrooms" validate:"omitempty,gte=0,lte=50"`
	SquareFootage int     `json:"square_footage" validate:"omitempty,gte=0"`
	YearBuilt     int     `json:"year_built" validate:"omitempty,gte=1700,lte=2100"`
	PurchasePrice float64 `json:"purchase_price" validate:"omitempty,gte=0"`
}

func (r *RentEstimateRequest) normalize() {
	r.Address = strings.TrimSpace(r.Address)
	r.PropertyType = strings.TrimSpace(r.PropertyType)
}

// ComparablesRequest asks for a value estimate with comparable sales.
type ComparablesRequest struct {
	Address string `json:"address" validate:"required,min=5"`
}

func (r *ComparablesRequest) normalize() {
	r.Address = strings.TrimSpace(r.Address)
}

// SearchResult is the outcome of a property lookup. Found is false when the
// provider has no data for the address; that is an empty result, not an
// error.
type SearchResult struct {
	Found      bool                `json:"found"`
	Properties []rentcast.Property `json:"properties"`
	FromCache  bool                `json:"from_cache"`
}

// RentEstimateResult carries the rent estimate and, when a purchase price was
// supplied, the derived investment analysis.
type RentEstimateResult struct {
	Found       bool                          `json:"found"`
	Estimate    *rentcast.RentEstimate        `json:"estimate,omitempty"`
	Investment  *rentcast.InvestmentMetrics   `json:"investment,omitempty"`
	MarketScore int                           `json:"market_score,omitempty"`
	FromCache   bool                          `json:"from_cache"`
}

// ComparablesResult carries the value estimate with its comparable sales.
type ComparablesResult struct {
	Found     bool                    `json:"found"`
	Estimate  *rentcast.ValueEstimate `json:"estimate,omitempty"`
	FromCache bool                    `json:"from_cache"`
}

// validationError flattens validator output into a single caller-facing
// message.
func validationError(err error) *apierr.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fieldMessage(fe))
		}
		return apierr.New(apierr.KindValidation, strings.Join(parts, "; "))
	}
	return apierr.Wrap(apierr.KindValidation, "invalid request", err)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "len":
		return field + " must be exactly " + fe.Param() + " characters"
	case "alpha":
		return field + " must contain only letters"
	case "numeric":
		return field + " must contain only digits"
	default:
		return field + " is invalid"
	}
}
