package domain

import (
	"errors"
	"net/netip"
	"strconv"
)

const (
	DefaultBlockMarker = "[UFW BLOCK]"

	MaxLineLength = 8192

	// Placeholder rendered for fields missing from a log line.
	NotAvailable = "N/A"
)

var (
	ErrNotBlockEvent   = errors.New("ignored, not a block event")
	ErrMissingSourceIP = errors.New("missing source IP")
	ErrInvalidSourceIP = errors.New("invalid source IP")
	ErrLogFileMissing  = errors.New("watched log file does not exist")
)

// Opt is a field that may be absent from a log line.
type Opt[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

func None[T any]() Opt[T] {
	return Opt[T]{}
}

func (o Opt[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Opt[T]) IsSet() bool {
	return o.set
}

// OrElse renders the value, or placeholder when absent.
func (o Opt[T]) OrElse(placeholder string) string {
	if !o.set {
		return placeholder
	}
	switch v := any(o.value).(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case netip.Addr:
		return v.String()
	default:
		return placeholder
	}
}

// String renders the value with the N/A placeholder.
func (o Opt[T]) String() string {
	return o.OrElse(NotAvailable)
}

// BlockEvent is a single blocked-connection entry from the firewall log.
type BlockEvent struct {
	Timestamp  Opt[string]
	SourceIP   netip.Addr
	DestIP     Opt[netip.Addr]
	Protocol   Opt[string]
	SourcePort Opt[int]
	DestPort   Opt[int]
	TTL        Opt[string]
	Length     Opt[string]
	TOS        Opt[string]
	RawLine    string
}

func (e *BlockEvent) IPString() string {
	if !e.SourceIP.IsValid() {
		return ""
	}
	return e.SourceIP.String()
}
