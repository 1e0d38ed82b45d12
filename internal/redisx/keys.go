package redisx

import (
	"fmt"
	"time"
)

const (
	// Saga record per kind: {kind}_saga:{transaction_id} -> JSON
	KeySaga = "%s_saga:%s"

	// Per-transaction lease: lock:saga:{transaction_id} -> random token
	KeySagaLock = "lock:saga:%s"

	// Non-terminal sagas, scored by last update (unix seconds)
	KeyActiveSagas = "saga:active"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSaga  = 600 * time.Second
	TTLDedup = 48 * time.Hour
)

func SagaKey(kind, transactionID string) string { return fmt.Sprintf(KeySaga, kind, transactionID) }

func LockKey(transactionID string) string { return fmt.Sprintf(KeySagaLock, transactionID) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
