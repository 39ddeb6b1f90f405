package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "effectd:prod:effect:abc", RecordKey("prod", "abc"))
	assert.Equal(t, "effectd:prod:effect:ab*", RecordKeyPattern("prod", "ab"))
	assert.Equal(t, "effectd:prod:index:rdt:default/my-app:default/p99", IndexKey("prod", testKey))
	assert.Equal(t, "effectd:prod:static:rdt:default/my-app:default/p99", StaticIndexKey("prod", testKey))
	assert.Equal(t, "effectd:prod:effect_events", EffectEventsChannel("prod"))
}

func TestIndexKeyEscapesSeparators(t *testing.T) {
	k := Key{Subject: "a:b", Group: "g", Target: "50%"}
	assert.Equal(t, "effectd:i:index:g:a%3Ab:50%25", IndexKey("i", k))
}

func TestRecordKeyPatternEscapesGlobs(t *testing.T) {
	assert.Equal(t, `effectd:prod:effect:\?\?\*\[a\]\\*`, RecordKeyPattern("prod", `??*[a]\`))
	assert.Equal(t, `effectd:a\*b:effect:*`, RecordKeyPattern("a*b", ""))
}

func TestTimestampScore(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, float64(1700000000123), TimestampScore(ts))
	assert.True(t, ts.Equal(TimeFromScore(TimestampScore(ts))))
}
