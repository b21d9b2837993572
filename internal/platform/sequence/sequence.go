// Package sequence issues the human-readable business identifiers
// (patient, appointment, medical record, invoice numbers). Numbers are
// allocated from an atomic per-period counter in storage, so concurrent
// creations across process instances never collide.
package sequence

import (
	"context"
	"fmt"
	"time"
)

// Entity selects the identifier format to allocate.
type Entity string

const (
	EntityPatient       Entity = "patient"
	EntityAppointment   Entity = "appointment"
	EntityMedicalRecord Entity = "medical_record"
	EntityInvoice       Entity = "invoice"
)

// Store is the atomic counter backing the allocator. Next increments the
// counter named by key and returns the new value; the increment must be
// atomic in storage, never read-then-write.
type Store interface {
	Next(ctx context.Context, key string) (int64, error)
}

type format struct {
	prefix string
	period string // time layout for the period key
	width  int
}

var formats = map[Entity]format{
	EntityPatient:       {prefix: "P", period: "2006", width: 4},
	EntityAppointment:   {prefix: "A", period: "200601", width: 4},
	EntityMedicalRecord: {prefix: "MR", period: "200601", width: 6},
	EntityInvoice:       {prefix: "INV", period: "200601", width: 4},
}

// Format renders an identifier from its parts, e.g. MR + 202606 + 42 with
// width 6 gives MR202606000042.
func Format(entity Entity, at time.Time, seq int64) (string, error) {
	f, ok := formats[entity]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entity)
	}
	return fmt.Sprintf("%s%s%0*d", f.prefix, at.UTC().Format(f.period), f.width, seq), nil
}

// Key returns the counter key for an entity and period, e.g.
// "appointment:202606". Counters are scoped per (entity, period) so the
// numeric suffix restarts each period.
func Key(entity Entity, at time.Time) (string, error) {
	f, ok := formats[entity]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entity)
	}
	return string(entity) + ":" + at.UTC().Format(f.period), nil
}
