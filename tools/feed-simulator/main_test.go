package main

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/V4T54L/killwatch/internal/adapter/feed"
	"github.com/V4T54L/killwatch/internal/domain"
)

// The simulator's output must be accepted by the real normalizers, and both streams
// must describe the same kill.
func TestEncodedKillsNormalize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &generator{rnd: rand.New(rand.NewSource(1)), nextID: 1000, maxAttackers: 5}

	for i := 0; i < 20; i++ {
		k := gen.next()
		var events []domain.CanonicalKillEvent
		for provider, encode := range map[domain.Provider]func(kill) ([]byte, error){
			domain.ProviderZKillboard: encodeZKillboard,
			domain.ProviderEveKill:    encodeEveKill,
		} {
			payload, err := encode(k)
			if err != nil {
				t.Fatalf("encode %s: %v", provider, err)
			}
			n, err := feed.NewNormalizer(provider, logger, nil)
			if err != nil {
				t.Fatal(err)
			}
			event, ok := n.Normalize(domain.RawFeedMessage{Provider: provider, Payload: payload, ReceivedAt: time.Now()})
			if !ok {
				t.Fatalf("%s payload did not normalize: %s", provider, payload)
			}
			events = append(events, event)
		}

		a, b := events[0], events[1]
		if a.EventID != b.EventID || a.SystemID != b.SystemID || !a.OccurredAt.Equal(b.OccurredAt) {
			t.Errorf("streams disagree: %+v vs %+v", a, b)
		}
		if len(a.Attackers) != len(k.Attackers) || len(b.Attackers) != len(k.Attackers) {
			t.Errorf("attacker count mismatch for kill %d", k.ID)
		}
		if (a.Victim.CharacterID == nil) != (b.Victim.CharacterID == nil) {
			t.Errorf("victim character presence differs for kill %d", k.ID)
		}
	}
}

func TestHubPublishDoesNotBlock(t *testing.T) {
	h := newHub("zkillboard", encodeZKillboard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	slow := make(chan []byte) // never read
	h.clients[slow] = struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.publish(kill{ID: 1, Time: time.Now(), SystemID: 30000142})
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("publish blocked on a slow client")
	}
}
