// Command feed-simulator serves fake zkillboard and eve-kill websocket streams so the
// pipeline can be exercised without the real providers. Every generated kill is sent
// on both streams, and a share of kills is sent twice on the same stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

const (
	clientBuffer = 256
	writeWait    = 5 * time.Second
	statsPeriod  = 10 * time.Second
)

type kill struct {
	ID        int64
	Time      time.Time
	SystemID  int64
	Victim    pilot
	Attackers []pilot
}

type pilot struct {
	CharacterID   int64
	CorporationID int64
	AllianceID    int64
	ShipTypeID    int64
}

var (
	systemIDs = []int64{30000142, 30002187, 30002510, 30002053, 30000144}
	shipIDs   = []int64{587, 621, 24690, 17738, 11176, 35832}
	corpIDs   = []int64{98000001, 98000002, 98000003}
	allyIDs   = []int64{99000001, 99000002, 0}
)

func main() {
	addr := pflag.StringP("addr", "a", ":8090", "listen address")
	rps := pflag.Float64P("rate", "r", 2, "kills per second")
	dupRatio := pflag.Float64P("duplicate-ratio", "d", 0.1, "share of kills re-sent on the same stream")
	maxAttackers := pflag.IntP("max-attackers", "m", 8, "maximum attackers per kill")
	duration := pflag.DurationP("duration", "t", 0, "stop after this long (0 runs until interrupted)")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "random seed")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	hubs := map[string]*hub{
		"zkillboard": newHub("zkillboard", encodeZKillboard, logger),
		"evekill":    newHub("evekill", encodeEveKill, logger),
	}
	mux := http.NewServeMux()
	for name, h := range hubs {
		mux.Handle("/"+name, h)
	}
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving simulated feeds", "addr", *addr, "paths", []string{"/zkillboard", "/evekill"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("simulator server failed", "error", err)
			stop()
		}
	}()

	gen := &generator{rnd: rand.New(rand.NewSource(*seed)), nextID: 120000000, maxAttackers: *maxAttackers}
	limiter := rate.NewLimiter(rate.Limit(*rps), 1)
	var sent, dups atomic.Int64

	ticker := time.NewTicker(statsPeriod)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("simulator stats", "kills", sent.Load(), "duplicates", dups.Load())
			}
		}
	}()

	var history []kill
	for limiter.Wait(ctx) == nil {
		k := gen.next()
		history = append(history, k)
		if len(history) > 100 {
			history = history[1:]
		}
		for _, h := range hubs {
			h.publish(k)
		}
		sent.Add(1)

		if gen.rnd.Float64() < *dupRatio {
			old := history[gen.rnd.Intn(len(history))]
			for _, h := range hubs {
				h.publish(old)
			}
			dups.Add(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("simulator finished", "kills", sent.Load(), "duplicates", dups.Load())
}

type generator struct {
	rnd          *rand.Rand
	nextID       int64
	maxAttackers int
}

func (g *generator) next() kill {
	g.nextID++
	k := kill{
		ID:       g.nextID,
		Time:     time.Now().UTC().Truncate(time.Second),
		SystemID: pick(g.rnd, systemIDs),
		Victim:   g.pilot(),
	}
	// Roughly one kill in ten is a structure with no pilot.
	if g.rnd.Intn(10) == 0 {
		k.Victim.CharacterID = 0
	}
	n := 1 + g.rnd.Intn(max(g.maxAttackers, 1))
	for i := 0; i < n; i++ {
		k.Attackers = append(k.Attackers, g.pilot())
	}
	return k
}

func (g *generator) pilot() pilot {
	return pilot{
		CharacterID:   90000000 + g.rnd.Int63n(50),
		CorporationID: pick(g.rnd, corpIDs),
		AllianceID:    pick(g.rnd, allyIDs),
		ShipTypeID:    pick(g.rnd, shipIDs),
	}
}

func pick(rnd *rand.Rand, ids []int64) int64 {
	return ids[rnd.Intn(len(ids))]
}

func encodeZKillboard(k kill) ([]byte, error) {
	type attacker struct {
		CharacterID int64 `json:"character_id,omitempty"`
		ShipTypeID  int64 `json:"ship_type_id,omitempty"`
	}
	type victim struct {
		CharacterID   int64 `json:"character_id,omitempty"`
		CorporationID int64 `json:"corporation_id,omitempty"`
		AllianceID    int64 `json:"alliance_id,omitempty"`
		ShipTypeID    int64 `json:"ship_type_id"`
	}
	attackers := make([]attacker, len(k.Attackers))
	for i, a := range k.Attackers {
		attackers[i] = attacker{CharacterID: a.CharacterID, ShipTypeID: a.ShipTypeID}
	}
	return json.Marshal(map[string]any{
		"killmail_id":     k.ID,
		"killmail_time":   k.Time.Format(time.RFC3339),
		"solar_system_id": k.SystemID,
		"victim":          victim(k.Victim),
		"attackers":       attackers,
		"zkb":             map[string]any{"url": fmt.Sprintf("https://zkillboard.com/kill/%d/", k.ID)},
	})
}

func encodeEveKill(k kill) ([]byte, error) {
	type attacker struct {
		CharacterID int64 `json:"character_id"`
		ShipID      int64 `json:"ship_id"`
	}
	attackers := make([]attacker, len(k.Attackers))
	for i, a := range k.Attackers {
		attackers[i] = attacker{CharacterID: a.CharacterID, ShipID: a.ShipTypeID}
	}
	return json.Marshal(map[string]any{
		"killmail_id": k.ID,
		"kill_time":   k.Time.Unix(),
		"system_id":   k.SystemID,
		"victim": map[string]int64{
			"character_id":   k.Victim.CharacterID,
			"corporation_id": k.Victim.CorporationID,
			"alliance_id":    k.Victim.AllianceID,
			"ship_id":        k.Victim.ShipTypeID,
		},
		"attackers": attackers,
	})
}

// hub serves one provider's stream to any number of websocket clients.
type hub struct {
	name     string
	encode   func(kill) ([]byte, error)
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func newHub(name string, encode func(kill) ([]byte, error), logger *slog.Logger) *hub {
	return &hub{
		name:    name,
		encode:  encode,
		logger:  logger.With("feed", name),
		clients: make(map[chan []byte]struct{}),
	}
}

func (h *hub) publish(k kill) {
	msg, err := h.encode(k)
	if err != nil {
		h.logger.Error("failed to encode kill", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c <- msg:
		default:
		}
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	session := uuid.NewString()
	log := h.logger.With("session", session, "remote_addr", r.RemoteAddr)

	// The first frame must be the subscription request.
	_, sub, err := conn.ReadMessage()
	if err != nil {
		return
	}
	log.Info("client subscribed", "message", string(sub))

	send := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[send] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, send)
		h.mu.Unlock()
		log.Info("client disconnected")
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
