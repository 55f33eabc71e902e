package cache

import "github.com/google/uuid"

// NewInstanceID mints a process-lifetime unique identifier, used to tag
// outbound EvictionEvents so the evictionbus subscriber can suppress
// self-echo (spec.md §4.4, §8 invariant 10). Callers mint exactly one per
// process and thread it through the manager and every wrapper that publishes
// events.
func NewInstanceID() string {
	return uuid.NewString()
}
