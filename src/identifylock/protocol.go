// Package identifylock keeps shards from identifying at the same time. Locks
// live in a lock server reached over NATS request/reply; a Set combines the
// locks a deployment is configured with into the single gate a shard waits on
// before sending IDENTIFY.
package identifylock

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

const DefaultPrefix = "gateway.identify"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type acquireRequest struct {
	Name  string `json:"name"`
	TTLms int64  `json:"ttl_ms"`
}

type acquireResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

type releaseRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type releaseResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func acquireSubject(prefix string) string {
	return prefix + ".acquire"
}

func releaseSubject(prefix string) string {
	return prefix + ".release"
}

func ttlMillis(ttl time.Duration) int64 {
	return ttl.Milliseconds()
}
