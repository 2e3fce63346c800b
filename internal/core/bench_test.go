package core

import "testing"

func benchmarkFeedBroadcast(b *testing.B, subscribers int) {
	feed := NewFeed()

	subs := make([]*Subscription, 0, subscribers)
	for i := 0; i < subscribers; i++ {
		sub := &Subscription{ClientID: int32(i), Events: make(chan Event, 1)}
		feed.Add(sub)
		subs = append(subs, sub)
	}

	// Drain events for all but the first subscriber to avoid drops skewing the result.
	target := subs[0]
	for _, s := range subs[1:] {
		go func(sub *Subscription) {
			for range sub.Events {
			}
		}(s)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		feed.Broadcast(Event{Kind: EventTableCreated, Name: "bench", TableID: int32(i)})
		<-target.Events
	}
}

func BenchmarkFeedBroadcast_10(b *testing.B)  { benchmarkFeedBroadcast(b, 10) }
func BenchmarkFeedBroadcast_100(b *testing.B) { benchmarkFeedBroadcast(b, 100) }
func BenchmarkFeedBroadcast_500(b *testing.B) { benchmarkFeedBroadcast(b, 500) }
