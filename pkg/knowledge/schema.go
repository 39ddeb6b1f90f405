package knowledge

import (
	"fmt"
	"strings"
	"time"
)

// Redis key pattern helpers
//
// Key pattern: effectd:{instance_name}:{entity}:{...}
// Channel pattern: effectd:{instance_name}:{event_type}_events
//
// Key components are escaped so a ':' inside a subject or target cannot
// collide with another key's index.

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func escapeKey(k Key) string {
	return keyEscaper.Replace(k.Group) + ":" + keyEscaper.Replace(k.Subject) + ":" + keyEscaper.Replace(k.Target)
}

// RecordKey returns the Redis key for an effect record hash.
// Pattern: effectd:{instance_name}:effect:{record_id}
func RecordKey(instanceName, recordID string) string {
	return fmt.Sprintf("effectd:%s:effect:%s", instanceName, recordID)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// RecordKeyPattern returns the SCAN pattern matching record hashes whose ID
// starts with idPrefix. Glob characters in either argument match literally.
func RecordKeyPattern(instanceName, idPrefix string) string {
	return fmt.Sprintf("effectd:%s:effect:%s*", globEscaper.Replace(instanceName), globEscaper.Replace(idPrefix))
}

// IndexKey returns the Redis key for a key's timestamp index ZSET.
// Pattern: effectd:{instance_name}:index:{group}:{subject}:{target}
func IndexKey(instanceName string, k Key) string {
	return fmt.Sprintf("effectd:%s:index:%s", instanceName, escapeKey(k))
}

// StaticIndexKey returns the Redis key for a key's static record ZSET.
// Pattern: effectd:{instance_name}:static:{group}:{subject}:{target}
func StaticIndexKey(instanceName string, k Key) string {
	return fmt.Sprintf("effectd:%s:static:%s", instanceName, escapeKey(k))
}

// EffectEventsChannel returns the Pub/Sub channel name for insert events.
// Pattern: effectd:{instance_name}:effect_events
func EffectEventsChannel(instanceName string) string {
	return fmt.Sprintf("effectd:%s:effect_events", instanceName)
}

// TimestampScore converts a record timestamp to a ZSET score in milliseconds.
func TimestampScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// TimeFromScore converts a ZSET score back to a timestamp.
func TimeFromScore(score float64) time.Time {
	return time.UnixMilli(int64(score))
}
