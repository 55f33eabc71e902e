// Package pubsub provides channel naming and event envelope definitions for
// the cache engine's cluster coordination: eviction broadcast and warming
// completion notifications. It has no dependency on any specific transport;
// evictionbus and warming take a redis.UniversalClient from their caller and
// publish/subscribe on the channel names defined here.
//
// Channel naming convention:
//   - cache:eviction:<namespace>  - EvictionEvent, one channel per namespace
//   - cache:warm:completed        - WarmCompletedEvent, cluster-wide
package pubsub

// EvictionChannel returns the pub/sub channel a namespace's EvictionEvents
// are published and subscribed on.
func EvictionChannel(namespace string) string {
	return "cache:eviction:" + namespace
}

// ChannelWarmCompleted carries WarmCompletedEvent.
const ChannelWarmCompleted = "cache:warm:completed"
