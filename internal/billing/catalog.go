package billing

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Plan is one subscription tier's credit entitlement.
type Plan struct {
	Tier           string
	MonthlyCredits decimal.Decimal
	RolloverCap    decimal.Decimal
	Unlimited      bool
}

type planYaml struct {
	Tier           string `yaml:"tier"`
	MonthlyCredits string `yaml:"monthly_credits"`
	RolloverCap    string `yaml:"rollover_cap"`
	Unlimited      bool   `yaml:"unlimited"`
}

type catalogYaml struct {
	Plans []planYaml `yaml:"plans"`
}

// Catalog maps subscription tiers to plans. It is an external input to the
// accounting core: the reconciler uses it to size wallet allocations on each
// billing-period transition.
type Catalog struct {
	plans map[string]Plan
}

// LoadCatalog reads a plan catalog from a YAML file.
func LoadCatalog(plansFile string) (*Catalog, error) {
	var plansPath string
	if filepath.IsAbs(plansFile) {
		plansPath = plansFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		plansPath = filepath.Join(wd, plansFile)
	}

	data, err := os.ReadFile(plansPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", plansFile, err)
	}

	var raw catalogYaml
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", plansFile, err)
	}

	plans := make([]Plan, 0, len(raw.Plans))
	for i, p := range raw.Plans {
		if p.Tier == "" {
			return nil, fmt.Errorf("plan at index %d missing tier", i)
		}
		monthly, err := decimal.NewFromString(p.MonthlyCredits)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid monthly_credits %q: %w", p.Tier, p.MonthlyCredits, err)
		}
		rolloverCap := decimal.Zero
		if p.RolloverCap != "" {
			rolloverCap, err = decimal.NewFromString(p.RolloverCap)
			if err != nil {
				return nil, fmt.Errorf("plan %s: invalid rollover_cap %q: %w", p.Tier, p.RolloverCap, err)
			}
		}
		plans = append(plans, Plan{
			Tier:           p.Tier,
			MonthlyCredits: monthly,
			RolloverCap:    rolloverCap,
			Unlimited:      p.Unlimited,
		})
	}

	return NewCatalog(plans), nil
}

// NewCatalog builds a catalog from explicit plans.
func NewCatalog(plans []Plan) *Catalog {
	byTier := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byTier[p.Tier] = p
	}
	return &Catalog{plans: byTier}
}

// DefaultCatalog returns the built-in tiers used when no plans file is
// configured.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Plan{
		{Tier: "free", MonthlyCredits: decimal.NewFromInt(10), RolloverCap: decimal.Zero},
		{Tier: "creator", MonthlyCredits: decimal.NewFromInt(300), RolloverCap: decimal.NewFromInt(150)},
		{Tier: "pro", MonthlyCredits: decimal.NewFromInt(1000), RolloverCap: decimal.NewFromInt(500)},
		{Tier: "studio", MonthlyCredits: decimal.NewFromInt(3000), RolloverCap: decimal.NewFromInt(1500), Unlimited: true},
	})
}

// Plan returns the entitlement for a tier. Unknown tiers get a
// zero-allocation plan rather than an error so a bad webhook payload cannot
// wedge reconciliation.
func (c *Catalog) Plan(tier string) Plan {
	if p, ok := c.plans[tier]; ok {
		return p
	}
	return Plan{Tier: tier, MonthlyCredits: decimal.Zero, RolloverCap: decimal.Zero}
}
