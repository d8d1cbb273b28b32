package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CustomSlotCount is the number of generic custom-variable slots (var1..varN)
// every mapping carries.
const CustomSlotCount = 10

// CanonicalField names a field of the canonical trade schema.
type CanonicalField string

const (
	FieldSymbol     CanonicalField = "symbol"
	FieldDirection  CanonicalField = "direction"
	FieldDate       CanonicalField = "date"
	FieldTime       CanonicalField = "time"
	FieldPnl        CanonicalField = "pnl"
	FieldEntryPrice CanonicalField = "entry_price"
	FieldExitPrice  CanonicalField = "exit_price"
	FieldQuantity   CanonicalField = "quantity"
	FieldRR         CanonicalField = "rr"
	FieldStopLoss   CanonicalField = "stop_loss"
	FieldTakeProfit CanonicalField = "take_profit"
)

// FixedFields lists the non-custom canonical fields in display order.
var FixedFields = []CanonicalField{
	FieldSymbol,
	FieldDirection,
	FieldDate,
	FieldTime,
	FieldPnl,
	FieldEntryPrice,
	FieldExitPrice,
	FieldQuantity,
	FieldRR,
	FieldStopLoss,
	FieldTakeProfit,
}

// CustomSlot returns the field name of custom slot n (1-based).
func CustomSlot(n int) CanonicalField {
	return CanonicalField(fmt.Sprintf("var%d", n))
}

// CustomSlots returns var1..varN.
func CustomSlots() []CanonicalField {
	slots := make([]CanonicalField, CustomSlotCount)
	for i := range slots {
		slots[i] = CustomSlot(i + 1)
	}
	return slots
}

// AllFields returns every field a ColumnMapping covers: fixed fields followed
// by the custom slots.
func AllFields() []CanonicalField {
	return append(append([]CanonicalField{}, FixedFields...), CustomSlots()...)
}

// IsCustom reports whether f is one of the custom-variable slots.
func (f CanonicalField) IsCustom() bool {
	for _, slot := range CustomSlots() {
		if f == slot {
			return true
		}
	}
	return false
}

// IsValid reports whether f is a fixed field or a custom slot.
func (f CanonicalField) IsValid() bool {
	for _, field := range FixedFields {
		if f == field {
			return true
		}
	}
	return f.IsCustom()
}

// String returns the string representation of CanonicalField
func (f CanonicalField) String() string {
	return string(f)
}

// ParseCanonicalField parses a field name, case-insensitively.
func ParseCanonicalField(s string) (CanonicalField, error) {
	f := CanonicalField(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// ColumnMapping associates each canonical field with a source CSV column.
// An empty column means the field is not mapped.
type ColumnMapping map[CanonicalField]string

// NewColumnMapping returns a mapping with every field present and unmapped.
func NewColumnMapping() ColumnMapping {
	m := make(ColumnMapping, len(FixedFields)+CustomSlotCount)
	for _, f := range AllFields() {
		m[f] = ""
	}
	return m
}

// Get returns the column mapped to f, or "".
func (m ColumnMapping) Get(f CanonicalField) string {
	return m[f]
}

// Set maps f to column.
func (m ColumnMapping) Set(f CanonicalField, column string) {
	m[f] = column
}

// IsMapped reports whether f has a non-empty column.
func (m ColumnMapping) IsMapped(f CanonicalField) bool {
	return m[f] != ""
}

// Clone returns an independent copy.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MappedCustomSlots returns the populated custom slots in slot order.
func (m ColumnMapping) MappedCustomSlots() []CanonicalField {
	var slots []CanonicalField
	for _, slot := range CustomSlots() {
		if m.IsMapped(slot) {
			slots = append(slots, slot)
		}
	}
	return slots
}

// RawRow is one CSV data line keyed by header name. Rows are never modified
// after tokenization.
type RawRow map[string]string

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Reserved keys inside extra_data.
const (
	ExtraKeyVarMapping = "_var_mapping"
	ExtraKeyTradeHour  = "trade_hour"
)

// ExtraData is the free-form bag attached to a CanonicalTrade. Values holds
// the raw cell of every mapped custom slot under its original header name;
// VarMapping records slot -> original header.
type ExtraData struct {
	Values     map[string]string
	VarMapping map[string]string
	TradeHour  int
}

// NewExtraData returns an empty ExtraData.
func NewExtraData() ExtraData {
	return ExtraData{
		Values:     make(map[string]string),
		VarMapping: make(map[string]string),
	}
}

// MarshalJSON flattens the bag into one object. Reserved keys win over CSV
// headers with the same name.
func (e ExtraData) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Values)+2)
	for k, v := range e.Values {
		out[k] = v
	}
	varMapping := e.VarMapping
	if varMapping == nil {
		varMapping = map[string]string{}
	}
	out[ExtraKeyVarMapping] = varMapping
	out[ExtraKeyTradeHour] = e.TradeHour
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat extra_data object back into its parts.
func (e *ExtraData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = NewExtraData()
	for k, v := range raw {
		switch k {
		case ExtraKeyVarMapping:
			if err := json.Unmarshal(v, &e.VarMapping); err != nil {
				return fmt.Errorf("invalid %s: %w", ExtraKeyVarMapping, err)
			}
		case ExtraKeyTradeHour:
			if err := json.Unmarshal(v, &e.TradeHour); err != nil {
				return fmt.Errorf("invalid %s: %w", ExtraKeyTradeHour, err)
			}
		default:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("invalid extra_data value for %q: %w", k, err)
			}
			e.Values[k] = s
		}
	}
	return nil
}

// Headers returns the original header names held in Values, sorted.
func (e ExtraData) Headers() []string {
	headers := make([]string, 0, len(e.Values))
	for h := range e.Values {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	return headers
}

// CanonicalTrade is the normalized trade record handed to persistence.
type CanonicalTrade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	EntryPrice *float64  `json:"entry_price,omitempty"`
	ExitPrice  *float64  `json:"exit_price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Quantity   float64   `json:"quantity"`
	Pnl        float64   `json:"pnl"`
	RR         float64   `json:"rr"`
	Date       string    `json:"date"`
	EntryDate  string    `json:"entry_date"`
	ExitDate   string    `json:"exit_date"`
	ExtraData  ExtraData `json:"extra_data"`
}

// Validate performs basic schema validation on the trade
func (t *CanonicalTrade) Validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("trade symbol cannot be empty")
	}
	if !t.Direction.IsValid() {
		return fmt.Errorf("invalid trade direction: %s", t.Direction)
	}
	if t.RR < 0 {
		return fmt.Errorf("risk:reward cannot be negative: %v", t.RR)
	}
	if t.Date == "" {
		return fmt.Errorf("trade date cannot be empty")
	}
	return nil
}

// String returns a string representation of the trade
func (t *CanonicalTrade) String() string {
	return fmt.Sprintf("Trade{Symbol: %s, Direction: %s, PnL: %v, RR: %v, Date: %s}",
		t.Symbol, t.Direction, t.Pnl, t.RR, t.Date)
}

// IsWin reports whether the trade closed with a profit.
func (t *CanonicalTrade) IsWin() bool {
	return t.Pnl > 0
}

// Float returns a pointer to v, for the optional price fields.
func Float(v float64) *float64 {
	return &v
}

// SummaryStats is the live preview aggregate over analyzed trades.
type SummaryStats struct {
	TotalTrades int     `json:"totalTrades"`
	TotalPnl    float64 `json:"totalPnl"`
	WinRate     float64 `json:"winRate"`
	AvgPnl      float64 `json:"avgPnl"`
}
