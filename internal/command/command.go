package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Kind identifies a Command variant.
type Kind string

// Command kinds. The values double as schedule command_type values.
const (
	KindRead          Kind = "read"
	KindRegister      Kind = "register"
	KindMultiRegister Kind = "multiregister"
	KindTemplate      Kind = "template"
	KindCustom        Kind = "custom"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindRead, KindRegister, KindMultiRegister, KindTemplate, KindCustom}

// ValidKind reports whether k is a known kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Command is a device command. Only the fields of its Kind are meaningful:
//
//	read           Register
//	register       Register, Value
//	multiregister  Start, End, Value (pre-encoded hex)
//	custom         Method, URL
//	template       Template
type Command struct {
	Kind     Kind
	Register int
	Value    string
	Start    int
	End      int
	Method   string
	URL      string
	Template string

	// CacheUpdates are the register values the device holds once this
	// write succeeds. Never serialised.
	CacheUpdates map[int]int
}

// Read returns a single-register read.
func Read(register int) Command {
	return Command{Kind: KindRead, Register: register}
}

// RegisterWrite returns a single-register write.
func RegisterWrite(register int, value string) Command {
	return Command{Kind: KindRegister, Register: register, Value: value}
}

// MultiRegisterWrite returns a block write of a pre-encoded payload.
func MultiRegisterWrite(start, end int, value string) Command {
	return Command{Kind: KindMultiRegister, Start: start, End: end, Value: value}
}

// Custom returns an arbitrary request. An empty method means GET.
func Custom(method, url string) Command {
	if method == "" {
		method = http.MethodGet
	}
	return Command{Kind: KindCustom, Method: strings.ToUpper(method), URL: url}
}

// TemplateRef returns a reference to a stored template.
func TemplateRef(name string) Command {
	return Command{Kind: KindTemplate, Template: name}
}

// IsWrite reports whether success requires the literal "OK" reply.
func (c Command) IsWrite() bool {
	return c.Kind != KindRead
}

// payload is the stored JSON shape used by templates and custom commands.
type payload struct {
	Type          string          `json:"type,omitempty"`
	Register      *int            `json:"register,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	StartRegister *int            `json:"start_register,omitempty"`
	EndRegister   *int            `json:"end_register,omitempty"`
	Method        string          `json:"method,omitempty"`
	URL           string          `json:"url,omitempty"`
	Name          string          `json:"name,omitempty"`
}

// MarshalJSON renders the stored payload shape. This is also the text
// recorded in the execution log.
func (c Command) MarshalJSON() ([]byte, error) {
	p := payload{Type: string(c.Kind)}
	switch c.Kind {
	case KindRead:
		p.Register = &c.Register
	case KindRegister:
		p.Register = &c.Register
		p.Value = valueJSON(c.Value)
	case KindMultiRegister:
		p.StartRegister, p.EndRegister = &c.Start, &c.End
		p.Value, _ = json.Marshal(c.Value) //nolint:errcheck // string marshalling cannot fail
	case KindCustom:
		p.Method, p.URL = c.Method, c.URL
	case KindTemplate:
		p.Name = c.Template
	}
	return json.Marshal(p)
}

// String returns the JSON form.
func (c Command) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return string(c.Kind)
	}
	return string(b)
}

// ParsePayload decodes a stored payload.
//
// A payload without a type is a custom command when it carries a url,
// matching how custom commands are usually written. Values may be JSON
// numbers or strings.
func ParsePayload(data []byte) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var p payload
	if err := dec.Decode(&p); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	kind := Kind(p.Type)
	if kind == "" && p.URL != "" {
		kind = KindCustom
	}

	switch kind {
	case KindRead:
		if p.Register == nil {
			return Command{}, fmt.Errorf("%w: read needs register", ErrMalformedPayload)
		}
		return Read(*p.Register), nil

	case KindRegister:
		value, ok := rawToString(p.Value)
		if p.Register == nil || !ok {
			return Command{}, fmt.Errorf("%w: register needs register and value", ErrMalformedPayload)
		}
		return RegisterWrite(*p.Register, value), nil

	case KindMultiRegister:
		value, ok := rawToString(p.Value)
		if p.StartRegister == nil || p.EndRegister == nil || !ok {
			return Command{}, fmt.Errorf("%w: multiregister needs start_register, end_register and value", ErrMalformedPayload)
		}
		if *p.StartRegister > *p.EndRegister {
			return Command{}, fmt.Errorf("%w: start_register after end_register", ErrMalformedPayload)
		}
		return MultiRegisterWrite(*p.StartRegister, *p.EndRegister, value), nil

	case KindCustom:
		if p.URL == "" {
			return Command{}, fmt.Errorf("%w: custom needs url", ErrMalformedPayload)
		}
		return Custom(p.Method, p.URL), nil

	case KindTemplate:
		if p.Name == "" {
			return Command{}, fmt.Errorf("%w: template needs name", ErrMalformedPayload)
		}
		return TemplateRef(p.Name), nil
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommandType, p.Type)
}

// ParseRegisterValue reads a register value as an integer. "HH:MM" is
// accepted for time registers and becomes HH*100+MM.
func ParseRegisterValue(s string) (int, error) {
	s = strings.TrimSpace(s)
	if hh, mm, found := strings.Cut(s, ":"); found {
		h, err1 := strconv.Atoi(hh)
		m, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return 0, fmt.Errorf("%w: invalid time %q", ErrMalformedPayload, s)
		}
		return h*100 + m, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: register value %q is not an integer", ErrMalformedPayload, s)
	}
	return v, nil
}

func rawToString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func valueJSON(v string) json.RawMessage {
	if n, err := strconv.Atoi(v); err == nil {
		return json.RawMessage(strconv.Itoa(n))
	}
	b, _ := json.Marshal(v) //nolint:errcheck // string marshalling cannot fail
	return b
}
