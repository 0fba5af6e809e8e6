// Package toolcall turns the assistant's loosely shaped tool arguments into
// canonical notification payloads.
package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/afi-assist/assist-gateway/internal/domain"
)

// EmailRequiredMessage is returned to the assistant when no contact email is
// known; the assistant relays it to the user.
const EmailRequiredMessage = "Nous avons besoin de votre email pour continuer. Pourriez-vous me fournir votre adresse email ?"

var (
	// ErrEmailRequired means neither the arguments nor the session carry an email.
	ErrEmailRequired = errors.New(EmailRequiredMessage)
	// ErrUnknownAction means the assistant called a tool we do not handle.
	ErrUnknownAction = errors.New("unknown action")
)

// Payload is a canonical notification: the intent plus fields in schema order.
type Payload struct {
	Intent domain.Intent
	fields []string
	values map[string]any
}

// Get returns the resolved value of a canonical field.
func (p *Payload) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// String returns a field rendered as a string, or "" when absent.
func (p *Payload) String(name string) string {
	v, ok := p.values[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON writes {"intent": ..., <fields in schema order>}.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"intent":`)
	intent, err := json.Marshal(p.Intent)
	if err != nil {
		return nil, err
	}
	buf.Write(intent)
	for _, name := range p.fields {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[name])
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize builds the payload for call using the session's identity as a
// fallback. It refuses with ErrEmailRequired before looking at the action,
// so every action requires a contact email.
func Normalize(call domain.ToolCall, user domain.UserInfo) (*Payload, error) {
	if !truthy(call.Arguments[FieldEmail]) && user.Email == "" {
		return nil, ErrEmailRequired
	}

	schema, ok := Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, call.Name)
	}

	p := &Payload{
		Intent: schema.Intent,
		fields: make([]string, 0, len(schema.Fields)),
		values: make(map[string]any, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		p.fields = append(p.fields, f.Name)
		p.values[f.Name] = resolve(f, call.Arguments, user)
	}
	return p, nil
}

func resolve(f Field, args map[string]any, user domain.UserInfo) any {
	for _, alias := range f.Aliases {
		if v, ok := args[alias]; ok && truthy(v) {
			return v
		}
	}
	switch f.Session {
	case SessionName:
		if user.Name != "" {
			return user.Name
		}
	case SessionEmail:
		if user.Email != "" {
			return user.Email
		}
	}
	return f.Default
}

// truthy treats nil, false, zero numbers and blank strings as absent, which
// is how the assistant signals "not provided".
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		return t.String() != "0"
	default:
		return true
	}
}

// DecodeArguments parses the raw JSON argument string of a tool call.
// An empty string yields an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}
