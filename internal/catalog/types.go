// Package catalog holds the immutable reference data a session is built from:
// products, venues, counterparties, and contract templates. Loaded once from
// configuration and never mutated by the simulation.
package catalog

// Season of the simulation year. A season lasts 90 sim-days.
type Season uint8

const (
	SeasonSpring Season = 0
	SeasonSummer Season = 1
	SeasonAutumn Season = 2
	SeasonWinter Season = 3
)

// SeasonName returns a human-readable season name.
func SeasonName(s Season) string {
	switch s {
	case SeasonSpring:
		return "Spring"
	case SeasonSummer:
		return "Summer"
	case SeasonAutumn:
		return "Autumn"
	case SeasonWinter:
		return "Winter"
	default:
		return "Unknown"
	}
}

// SeasonForDay returns the season active on a given sim-day.
func SeasonForDay(day float64) Season {
	if day < 0 {
		return SeasonSpring
	}
	return Season(uint64(day/90) % 4)
}

// Product categories.
const (
	CategoryFlower   = "flower"
	CategoryExtract  = "extract"
	CategoryEdible   = "edible"
	CategoryWellness = "wellness"
)

// PaymentMethod determines settlement speed and cost.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit"
)

// Product is immutable reference data for one tradeable good.
type Product struct {
	ID            string             `koanf:"id" validate:"required"`
	Name          string             `koanf:"name" validate:"required"`
	Category      string             `koanf:"category" validate:"required,oneof=flower extract edible wellness"`
	BasePrice     float64            `koanf:"base_price" validate:"gt=0"`
	DemandProfile float64            `koanf:"demand_profile" validate:"gte=0,lte=1"`
	Volatility    float64            `koanf:"volatility" validate:"gte=0,lte=1"`
	Seasonal      map[string]float64 `koanf:"seasonal"` // Season name → price multiplier
	SpoilageRate  float64            `koanf:"spoilage_rate" validate:"gte=0"` // Quality lost per sim-day
	ShelfLifeDays float64            `koanf:"shelf_life_days" validate:"gt=0"`
	MarketSize    float64            `koanf:"market_size" validate:"gt=0"` // Reference units for impact scaling
}

// SeasonalMultiplier returns the product's price multiplier for a season,
// defaulting to 1.0 when the catalog declares none.
func (p Product) SeasonalMultiplier(s Season) float64 {
	if m, ok := p.Seasonal[SeasonName(s)]; ok && m > 0 {
		return m
	}
	return 1.0
}

// Venue is a trading counterparty/location buy and sell intents route through.
type Venue struct {
	ID             string          `koanf:"id" validate:"required"`
	Name           string          `koanf:"name" validate:"required"`
	CounterpartyID string          `koanf:"counterparty_id" validate:"required"`
	Markup         float64         `koanf:"markup" validate:"gte=0"`     // Fraction added on buys
	Commission     float64         `koanf:"commission" validate:"gte=0"` // Fraction taken on sells
	ProcessingDays float64         `koanf:"processing_days" validate:"gt=0"`
	MinQuantity    int             `koanf:"min_quantity" validate:"gte=1"`
	QualityMin     float64         `koanf:"quality_min" validate:"gte=0,lte=1"`
	QualityMax     float64         `koanf:"quality_max" validate:"gte=0,lte=1"`
	Payments       []PaymentMethod `koanf:"payments"`
}

// Accepts reports whether the venue takes a payment method. An empty list
// means cash only.
func (v Venue) Accepts(m PaymentMethod) bool {
	if len(v.Payments) == 0 {
		return m == PaymentCash
	}
	for _, p := range v.Payments {
		if p == m {
			return true
		}
	}
	return false
}

// SpecBand is an acceptable range for one delivery specification.
type SpecBand struct {
	Min float64 `koanf:"min"`
	Max float64 `koanf:"max"`
}

// BonusClause pays out when its threshold is met.
type BonusClause struct {
	Type      string  `koanf:"type" validate:"oneof=quality early_delivery"`
	Threshold float64 `koanf:"threshold"`
	Amount    float64 `koanf:"amount" validate:"gte=0"`
}

// PenaltyClause is charged when a delivery fails or a contract resolves badly.
type PenaltyClause struct {
	Type   string  `koanf:"type" validate:"oneof=quality_shortfall late_delivery breach"`
	Amount float64 `koanf:"amount" validate:"gte=0"`
}

// RiskEvent is a declared hazard rolled per tick while the contract is active.
type RiskEvent struct {
	Type        string  `koanf:"type"`
	Probability float64 `koanf:"probability" validate:"gte=0,lte=1"` // Per sim-day
	Impact      float64 `koanf:"impact" validate:"gte=0"`            // Estimated financial impact
}

// ContractTemplate is the immutable blueprint offers are generated from.
type ContractTemplate struct {
	ID              string             `koanf:"id" validate:"required"`
	CounterpartyID  string             `koanf:"counterparty_id" validate:"required"`
	ProductID       string             `koanf:"product_id" validate:"required"`
	Quantity        int                `koanf:"quantity" validate:"gte=1"`
	DurationDays    float64            `koanf:"duration_days" validate:"gt=0"`
	OfferWindowDays float64            `koanf:"offer_window_days" validate:"gt=0"`
	BaseValue       float64            `koanf:"base_value" validate:"gt=0"`
	MinQuality      float64            `koanf:"min_quality" validate:"gte=0,lte=1"`
	Potency         SpecBand           `koanf:"potency"`
	Purity          SpecBand           `koanf:"purity"`
	Moisture        SpecBand           `koanf:"moisture"`
	RequiredCaps    map[string]float64 `koanf:"required_caps"`
	Bonuses         []BonusClause      `koanf:"bonuses" validate:"dive"`
	Penalties       []PenaltyClause    `koanf:"penalties" validate:"dive"`
	Risks           []RiskEvent        `koanf:"risks" validate:"dive"`
}

// CounterpartyProfile is the immutable part of a business relationship:
// who the counterparty is and how they temperamentally react to the player.
type CounterpartyProfile struct {
	ID           string  `koanf:"id" validate:"required"`
	Name         string  `koanf:"name" validate:"required"`
	Role         string  `koanf:"role" validate:"required"` // "supplier", "distributor", "retailer", "lab"
	Patience     float64 `koanf:"patience" validate:"gte=0,lte=1"`
	Loyalty      float64 `koanf:"loyalty" validate:"gte=0,lte=1"`
	InitialTrust float64 `koanf:"initial_trust" validate:"gte=0,lte=1"`
}

// Catalog is the full immutable reference set for a session.
type Catalog struct {
	Products       map[string]Product
	Venues         map[string]Venue
	Templates      map[string]ContractTemplate
	Counterparties map[string]CounterpartyProfile

	// Ordered IDs for deterministic iteration.
	ProductIDs      []string
	VenueIDs        []string
	TemplateIDs     []string
	CounterpartyIDs []string
}

// Product looks up a product by ID.
func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.Products[id]
	return p, ok
}

// Venue looks up a venue by ID.
func (c *Catalog) Venue(id string) (Venue, bool) {
	v, ok := c.Venues[id]
	return v, ok
}

// Template looks up a contract template by ID.
func (c *Catalog) Template(id string) (ContractTemplate, bool) {
	t, ok := c.Templates[id]
	return t, ok
}

// Counterparty looks up a counterparty profile by ID.
func (c *Catalog) Counterparty(id string) (CounterpartyProfile, bool) {
	p, ok := c.Counterparties[id]
	return p, ok
}
