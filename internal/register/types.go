package register

import "time"

// EncodingType is the wire encoding of a register.
type EncodingType int

const (
	// TypeHex registers are written as hex; time values are packed.
	TypeHex EncodingType = 0
	// TypeDecimal registers are written as their raw integer.
	TypeDecimal EncodingType = 1
)

// ValueTypeTime marks a register holding a time of day stored as HH*100+MM.
const ValueTypeTime = "time"

// The Grid First block. The inverter firmware ignores single-register
// writes inside it, so it must always be written as one block.
const (
	BlockStart = 1070
	BlockEnd   = 1088
)

// InBlock reports whether n lies inside the Grid First block.
func InBlock(n int) bool {
	return n >= BlockStart && n <= BlockEnd
}

// BlockRange returns every register number of the block in ascending order.
func BlockRange() []int {
	out := make([]int, 0, BlockEnd-BlockStart+1)
	for n := BlockStart; n <= BlockEnd; n++ {
		out = append(out, n)
	}
	return out
}

// Metadata describes one register.
type Metadata struct {
	Number       int          `json:"register_number"`
	Name         string       `json:"name"`
	Description  *string      `json:"description,omitempty"`
	WriteOnly    bool         `json:"write_only"`
	ReadRegister *int         `json:"read_register,omitempty"`
	ValueType    string       `json:"value_type"`
	Type         EncodingType `json:"type"`
	MinValue     *int         `json:"min_value,omitempty"`
	MaxValue     *int         `json:"max_value,omitempty"`
	Category     *string      `json:"category,omitempty"`
	GroupID      *int64       `json:"group_id,omitempty"`

	// GroupName is filled by list queries; it is not stored.
	GroupName *string `json:"group_name,omitempty"`
}

// Encoding returns the fields that affect block packing.
func (m Metadata) Encoding() Encoding {
	return Encoding{Type: m.Type, ValueType: m.ValueType}
}

// Encoding is the part of the metadata the payload builder needs.
type Encoding struct {
	Type      EncodingType
	ValueType string
}

// PackedTime reports whether values are packed with PackTimeValue.
func (e Encoding) PackedTime() bool {
	return e.Type == TypeHex && e.ValueType == ValueTypeTime
}

// Value is a cached register value.
type Value struct {
	Number               int        `json:"register_number"`
	CurrentValue         int        `json:"current_value"`
	LastUpdated          time.Time  `json:"last_updated"`
	LastReadFromInverter *time.Time `json:"last_read_from_inverter,omitempty"`

	// Name and Description come from the metadata when present.
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Group is a display grouping of registers.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
