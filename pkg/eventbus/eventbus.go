// Package eventbus fans audit events out to Kafka for external
// consumers. Delivery is best effort: the chain in the primary store is
// the system of record and a failed publish never blocks it.
package eventbus

import (
	"context"

	"skillswap/pkg/models"
)

type Publisher interface {
	Publish(ctx context.Context, ev models.AuditEvent) error
	Close() error
}

// encode emits canonical JSON so consumers can dedupe republished
// events by comparing bytes.
func encode(ev models.AuditEvent) (key, value []byte, err error) {
	value, err = models.Canonicalize(ev)
	if err != nil {
		return nil, nil, err
	}
	return []byte(ev.Type), value, nil
}
