package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent pledge create: idem:pledge:create:{external_id} -> pledge_id
	KeyIdemPledgeCreate = "idem:pledge:create:%s"

	// Cached pledge status: pledge_status:{pledge_id} -> {"status":"...","payment_status":"..."}
	KeyPledgeStatus = "pledge_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = webhook/event id)
	keyDedupFmt = "dedup:%s:%s"

	// Delivered notifications per user: notify:user:{user_id} (capped list)
	KeyUserNotifications = "notify:user:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func keyDedup(service, id string) string {
	return fmt.Sprintf(keyDedupFmt, service, id)
}
