package profiles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"trade-import-service/internal/models"
	apperrors "trade-import-service/pkg/errors"
)

// CustomProfileID is the profile that starts every field unmapped.
const CustomProfileID = "custom"

// PlatformProfile represents the expected export layout of one trading platform
type PlatformProfile struct {
	ID          string                           `yaml:"id"`
	DisplayName string                           `yaml:"display_name"`
	FieldMap    map[models.CanonicalField]string `yaml:"field_map"`
	CustomSlots int                              `yaml:"custom_slots"`
	Description string                           `yaml:"description,omitempty"`
}

// Validate checks if the profile is usable
func (p *PlatformProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id cannot be empty")
	}

	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("profile %s: display name cannot be empty", p.ID)
	}

	for field, header := range p.FieldMap {
		if !field.IsValid() {
			return fmt.Errorf("profile %s: unknown field %q", p.ID, field)
		}
		if strings.TrimSpace(header) == "" {
			return fmt.Errorf("profile %s: expected header for %s cannot be empty", p.ID, field)
		}
	}

	if p.CustomSlots < 0 || p.CustomSlots > models.CustomSlotCount {
		return fmt.Errorf("profile %s: custom slots must be between 0 and %d, got %d",
			p.ID, models.CustomSlotCount, p.CustomSlots)
	}

	return nil
}

// IsCustom reports whether p seeds an empty mapping.
func (p *PlatformProfile) IsCustom() bool {
	return p.ID == CustomProfileID
}

// Built-in platform profiles
var (
	MetaTrader5Profile = &PlatformProfile{
		ID:          "metatrader5",
		DisplayName: "MetaTrader 5",
		FieldMap: map[models.CanonicalField]string{
			models.FieldSymbol:     "Symbol",
			models.FieldDirection:  "Type",
			models.FieldDate:       "Time",
			models.FieldPnl:        "Profit",
			models.FieldEntryPrice: "Price",
			models.FieldQuantity:   "Volume",
			models.FieldStopLoss:   "S / L",
			models.FieldTakeProfit: "T / P",
		},
		Description: "MetaTrader 5 account history export",
	}

	TradingViewProfile = &PlatformProfile{
		ID:          "tradingview",
		DisplayName: "TradingView",
		FieldMap: map[models.CanonicalField]string{
			models.FieldSymbol:     "Symbol",
			models.FieldDirection:  "Side",
			models.FieldDate:       "Date",
			models.FieldPnl:        "Profit",
			models.FieldEntryPrice: "Entry Price",
			models.FieldExitPrice:  "Exit Price",
			models.FieldQuantity:   "Qty",
		},
		Description: "TradingView paper trading / strategy tester list of trades",
	}

	InteractiveBrokersProfile = &PlatformProfile{
		ID:          "interactive_brokers",
		DisplayName: "Interactive Brokers",
		FieldMap: map[models.CanonicalField]string{
			models.FieldSymbol:     "Symbol",
			models.FieldDirection:  "Buy/Sell",
			models.FieldDate:       "TradeDate",
			models.FieldPnl:        "FifoPnlRealized",
			models.FieldEntryPrice: "TradePrice",
			models.FieldQuantity:   "Quantity",
		},
		Description: "Interactive Brokers Flex Query trade confirmation",
	}

	NinjaTraderProfile = &PlatformProfile{
		ID:          "ninjatrader",
		DisplayName: "NinjaTrader",
		FieldMap: map[models.CanonicalField]string{
			models.FieldSymbol:     "Instrument",
			models.FieldDirection:  "Market pos.",
			models.FieldDate:       "Entry time",
			models.FieldPnl:        "Profit",
			models.FieldEntryPrice: "Entry price",
			models.FieldExitPrice:  "Exit price",
			models.FieldQuantity:   "Qty",
		},
		Description: "NinjaTrader trade performance grid export",
	}

	CustomProfile = &PlatformProfile{
		ID:          CustomProfileID,
		DisplayName: "Custom",
		FieldMap:    map[models.CanonicalField]string{},
		CustomSlots: models.CustomSlotCount,
		Description: "Map every column by hand",
	}
)

// Registry is the read-only profile catalog: the built-ins followed by any
// user profiles loaded from a file.
type Registry struct {
	profiles []*PlatformProfile
	byID     map[string]*PlatformProfile
}

// NewRegistry returns a registry holding the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]*PlatformProfile)}
	for _, p := range []*PlatformProfile{
		MetaTrader5Profile,
		TradingViewProfile,
		InteractiveBrokersProfile,
		NinjaTraderProfile,
		CustomProfile,
	} {
		r.add(p)
	}
	return r
}

func (r *Registry) add(p *PlatformProfile) {
	r.profiles = append(r.profiles, p)
	r.byID[p.ID] = p
}

// ListProfiles returns every profile in catalog order.
func (r *Registry) ListProfiles() []*PlatformProfile {
	out := make([]*PlatformProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// GetProfile returns a profile by id
func (r *Registry) GetProfile(id string) (*PlatformProfile, error) {
	p, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, apperrors.ConfigurationError(apperrors.CodeUnknownProfile, "platform", id, nil)
	}
	return p, nil
}

type profilesFile struct {
	Profiles []*PlatformProfile `yaml:"profiles"`
}

// LoadProfilesFile adds the profiles defined in a YAML file to the registry.
// A file profile may not reuse an existing id.
func (r *Registry) LoadProfilesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "profiles_file", path, err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "profiles_file", path, err)
	}

	for _, p := range file.Profiles {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.FieldMap == nil {
			p.FieldMap = map[models.CanonicalField]string{}
		}
		if err := p.Validate(); err != nil {
			return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "profiles_file", path, err)
		}
		if _, exists := r.byID[p.ID]; exists {
			return apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "profiles_file", path,
				fmt.Errorf("profile id %q is already defined", p.ID))
		}
		r.add(p)
	}

	return nil
}

// DetectProfile attempts to detect the platform from headers. Profiles are
// ranked by the number of fields with a matching header; ties keep catalog
// order. With no match at all the custom profile is returned.
func (r *Registry) DetectProfile(headers []string) *PlatformProfile {
	var best *PlatformProfile
	bestScore := 0

	for _, p := range r.profiles {
		if p.IsCustom() {
			continue
		}

		score := 0
		for _, field := range sortedFields(p.FieldMap) {
			if bestHeader(p.FieldMap[field], headers) != "" {
				score++
			}
		}

		if score > bestScore {
			best, bestScore = p, score
		}
	}

	if best == nil {
		if p, ok := r.byID[CustomProfileID]; ok {
			return p
		}
		return CustomProfile
	}
	return best
}

func sortedFields(fieldMap map[models.CanonicalField]string) []models.CanonicalField {
	fields := make([]models.CanonicalField, 0, len(fieldMap))
	for f := range fieldMap {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
