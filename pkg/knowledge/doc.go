// Package knowledge defines effect records and the knowledge store that
// holds them, with a Redis-backed implementation.
//
// # Overview
//
// An effect record is one fitted model relating a configuration knob to an
// objective for a (subject, group, target) key. Training jobs append records;
// serving processes resolve the newest admissible one. Records are never
// updated in place: a retrained model is a new record with a newer timestamp.
//
// # Redis Schema
//
// All keys are namespaced by instance name so several deployments can share
// one Redis server:
//
//	Records:       effectd:{instance}:effect:{record_id}               (hash)
//	Key index:     effectd:{instance}:index:{group}:{subject}:{target} (zset, score = timestamp ms)
//	Static index:  effectd:{instance}:static:{group}:{subject}:{target} (zset, static records only)
//	Insert events: effectd:{instance}:effect_events                     (pub/sub)
//
// Record hashes are written before their index entries inside one MULTI
// block. Readers still tolerate index entries whose hash is missing, which is
// what a record deleted or expired mid-query looks like.
//
// # Usage Example
//
//	client, err := knowledge.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	records, err := client.Find(ctx, knowledge.Query{
//		Key:    knowledge.Key{Subject: "default/my-app", Group: "rdt", Target: "p99"},
//		Cutoff: time.Now().Add(-20 * time.Minute),
//		Limit:  4,
//	})
package knowledge
