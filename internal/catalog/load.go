package catalog

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fileSchema mirrors the YAML catalog layout.
type fileSchema struct {
	Products       []Product             `koanf:"products" validate:"min=1,dive"`
	Venues         []Venue               `koanf:"venues" validate:"min=1,dive"`
	Templates      []ContractTemplate    `koanf:"contract_templates" validate:"dive"`
	Counterparties []CounterpartyProfile `koanf:"counterparties" validate:"min=1,dive"`
}

// Load reads and validates a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}

	var raw fileSchema
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}

	return build(raw)
}

func build(raw fileSchema) (*Catalog, error) {
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	c := &Catalog{
		Products:       make(map[string]Product, len(raw.Products)),
		Venues:         make(map[string]Venue, len(raw.Venues)),
		Templates:      make(map[string]ContractTemplate, len(raw.Templates)),
		Counterparties: make(map[string]CounterpartyProfile, len(raw.Counterparties)),
	}

	for _, p := range raw.Products {
		if _, dup := c.Products[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		c.Products[p.ID] = p
		c.ProductIDs = append(c.ProductIDs, p.ID)
	}

	for _, cp := range raw.Counterparties {
		if _, dup := c.Counterparties[cp.ID]; dup {
			return nil, fmt.Errorf("duplicate counterparty id %q", cp.ID)
		}
		c.Counterparties[cp.ID] = cp
		c.CounterpartyIDs = append(c.CounterpartyIDs, cp.ID)
	}

	for _, v := range raw.Venues {
		if _, dup := c.Venues[v.ID]; dup {
			return nil, fmt.Errorf("duplicate venue id %q", v.ID)
		}
		if _, ok := c.Counterparties[v.CounterpartyID]; !ok {
			return nil, fmt.Errorf("venue %q references unknown counterparty %q", v.ID, v.CounterpartyID)
		}
		if v.QualityMax < v.QualityMin {
			return nil, fmt.Errorf("venue %q has inverted quality band", v.ID)
		}
		c.Venues[v.ID] = v
		c.VenueIDs = append(c.VenueIDs, v.ID)
	}

	for _, t := range raw.Templates {
		if _, dup := c.Templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate contract template id %q", t.ID)
		}
		if _, ok := c.Products[t.ProductID]; !ok {
			return nil, fmt.Errorf("template %q references unknown product %q", t.ID, t.ProductID)
		}
		if _, ok := c.Counterparties[t.CounterpartyID]; !ok {
			return nil, fmt.Errorf("template %q references unknown counterparty %q", t.ID, t.CounterpartyID)
		}
		c.Templates[t.ID] = t
		c.TemplateIDs = append(c.TemplateIDs, t.ID)
	}

	return c, nil
}

// New builds a catalog from already-constructed reference data. Used by tests
// and by embedding callers that do not load from a file.
func New(products []Product, venues []Venue, templates []ContractTemplate, counterparties []CounterpartyProfile) (*Catalog, error) {
	return build(fileSchema{
		Products:       products,
		Venues:         venues,
		Templates:      templates,
		Counterparties: counterparties,
	})
}
