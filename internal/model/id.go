package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// IDKind tells whether an identifier was minted locally or by the server.
type IDKind uint8

const (
	KindProvisional IDKind = iota + 1
	KindPersisted
)

func (k IDKind) String() string {
	switch k {
	case KindProvisional:
		return "provisional"
	case KindPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

var (
	ErrNotProvisional = errors.New("message id is not provisional")
	ErrEmptyServerID  = errors.New("server id is empty")
)

// MessageID is a tagged message identifier. The zero value is not a valid id.
type MessageID struct {
	kind  IDKind
	value string
}

// NewProvisionalID mints a fresh client-side id.
func NewProvisionalID() MessageID {
	return ProvisionalID(uuid.Must(uuid.NewV7()).String())
}

// ProvisionalID wraps a client generated value.
func ProvisionalID(value string) MessageID {
	return MessageID{kind: KindProvisional, value: value}
}

// PersistedID wraps a server assigned value.
func PersistedID(value string) MessageID {
	return MessageID{kind: KindPersisted, value: value}
}

// Kind returns the id kind.
func (id MessageID) Kind() IDKind { return id.kind }

// Value returns the raw identifier.
func (id MessageID) Value() string { return id.value }

// IsZero reports whether the id was never set.
func (id MessageID) IsZero() bool { return id.kind == 0 }

// IsProvisional reports whether the id still awaits a server id.
func (id MessageID) IsProvisional() bool { return id.kind == KindProvisional }

func (id MessageID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.kind.String() + ":" + id.value
}

// Persist returns the server id that replaces a provisional one.
func (id MessageID) Persist(serverID string) (MessageID, error) {
	if !id.IsProvisional() {
		return id, fmt.Errorf("persist %s: %w", id, ErrNotProvisional)
	}
	if serverID == "" {
		return id, ErrEmptyServerID
	}
	return PersistedID(serverID), nil
}

// MarshalJSON encodes the raw value; the kind is client-side state only.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// ServerID is an identifier assigned by the server. The wire format may carry
// it as a string or as an integer.
type ServerID string

// String returns the identifier as text.
func (s ServerID) String() string { return string(s) }

// UnmarshalJSON accepts JSON strings, numbers and null.
func (s *ServerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = ServerID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("server id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("server id: %w", err)
	}
	*s = ServerID(n.String())
	return nil
}
