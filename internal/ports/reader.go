package ports

import (
	"context"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

// LineSource emits newly appended lines of a watched file, in file order.
type LineSource interface {
	Start(ctx context.Context) (<-chan string, <-chan error)
	Stop() error
}

// EventParser turns a raw firewall log line into a BlockEvent.
// Rejections are reported through the domain sentinel errors.
type EventParser interface {
	Parse(line string) (*domain.BlockEvent, error)
	Format() string
}
