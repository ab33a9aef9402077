package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"jetlumiere/internal/config"
	"jetlumiere/internal/game"
	"jetlumiere/internal/ledger"
	"jetlumiere/internal/wallet"
)

type nopArchiver struct{}

func (nopArchiver) ArchiveRound(ctx context.Context, rec game.RoundRecord) error { return nil }

// newTestServer wires the routes against an in-memory wallet and an idle
// coordinator. The round loop is never started: round state endpoints see
// "no active round" and bet endpoints are exercised via their validation
// paths.
func newTestServer(t *testing.T) (*FiberServer, *wallet.Memory) {
	t.Helper()

	w := wallet.NewMemory()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	bridge := ledger.New(w, rdb)
	hub := game.NewHub()
	go hub.Run()

	cfg := config.GameConfig{
		WaitingDuration: time.Second,
		BettingDuration: time.Second,
		CrashedDuration: time.Second,
		TickInterval:    50 * time.Millisecond,
		HouseEdge:       0.03,
		MaxMultiplier:   1000,
		MinStake:        1,
		MaxStake:        100000,
		HistorySize:     50,
	}
	coordinator := game.NewCoordinator(cfg, hub, bridge, nopArchiver{}, rdb)

	s := &FiberServer{
		App:         fiber.New(),
		wallet:      w,
		bridge:      bridge,
		hub:         hub,
		coordinator: coordinator,
	}
	s.RegisterRoutes()
	return s, w
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func getJSON(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
}

func TestGetRoundNoActiveRound(t *testing.T) {
	s, _ := newTestServer(t)

	resp := getJSON(t, s.App, "/api/v1/round")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestVerifyRoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	seed, err := game.GenerateServerSeed()
	if err != nil {
		t.Fatal(err)
	}
	roundID := game.NewRoundID()
	crashPoint := game.CrashPointFromSeed(seed, roundID, s.coordinator.Fairness())

	t.Run("valid round verifies", func(t *testing.T) {
		resp := postJSON(t, s.App, "/api/v1/round/verify", fiber.Map{
			"round_id":    roundID,
			"server_seed": seed,
			"seed_hash":   game.SeedHash(seed),
			"crash_point": crashPoint,
		})
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body struct {
			Valid bool `json:"valid"`
		}
		decodeBody(t, resp, &body)
		if !body.Valid {
			t.Error("genuine round reported invalid")
		}
	})

	t.Run("tampered crash point fails", func(t *testing.T) {
		resp := postJSON(t, s.App, "/api/v1/round/verify", fiber.Map{
			"round_id":    roundID,
			"server_seed": seed,
			"seed_hash":   game.SeedHash(seed),
			"crash_point": crashPoint + 1,
		})
		var body struct {
			Valid bool `json:"valid"`
		}
		decodeBody(t, resp, &body)
		if body.Valid {
			t.Error("tampered round reported valid")
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		resp := postJSON(t, s.App, "/api/v1/round/verify", fiber.Map{
			"round_id": roundID,
		})
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestBetRoutesRequirePlayerID(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/v1/bets",
		"/api/v1/bets/cancel",
		"/api/v1/bets/cashout",
	} {
		resp := postJSON(t, s.App, path, fiber.Map{"stake": 100})
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestBalanceRoute(t *testing.T) {
	s, w := newTestServer(t)

	t.Run("unknown player", func(t *testing.T) {
		resp := getJSON(t, s.App, "/api/v1/players/ghost/balance")
		if resp.StatusCode != fiber.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("known player", func(t *testing.T) {
		w.SetBalance("alice", 1234)
		resp := getJSON(t, s.App, "/api/v1/players/alice/balance")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body struct {
			PlayerID string `json:"player_id"`
			Balance  int64  `json:"balance"`
		}
		decodeBody(t, resp, &body)
		if body.PlayerID != "alice" || body.Balance != 1234 {
			t.Errorf("body = %+v", body)
		}
	})
}

func TestDepositRoute(t *testing.T) {
	s, w := newTestServer(t)

	t.Run("credits the wallet", func(t *testing.T) {
		resp := postJSON(t, s.App, "/api/v1/players/bob/deposit", fiber.Map{"amount": 500})
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var body struct {
			Balance int64 `json:"balance"`
		}
		decodeBody(t, resp, &body)
		if body.Balance != 500 {
			t.Errorf("balance = %d, want 500", body.Balance)
		}
	})

	t.Run("client idempotency key makes retries safe", func(t *testing.T) {
		payload := fiber.Map{"amount": 200, "idempotency_key": "topup-1"}
		postJSON(t, s.App, "/api/v1/players/bob/deposit", payload)
		resp := postJSON(t, s.App, "/api/v1/players/bob/deposit", payload)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("retry status = %d, want 200", resp.StatusCode)
		}
		bal, err := w.Balance(context.Background(), "bob")
		if err != nil {
			t.Fatal(err)
		}
		if bal != 700 {
			t.Errorf("balance = %d, want a single 200 on top of 500", bal)
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		resp := postJSON(t, s.App, "/api/v1/players/bob/deposit", fiber.Map{"amount": 0})
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		want   int
	}{
		{"ledger unavailable", game.ErrLedgerUnavailable, game.ErrLedgerUnavailable.Error(), fiber.StatusServiceUnavailable},
		{"entropy unavailable", game.ErrEntropyUnavailable, game.ErrEntropyUnavailable.Error(), fiber.StatusServiceUnavailable},
		{"request timeout", nil, "request_timeout", fiber.StatusServiceUnavailable},
		{"queue full", nil, "queue_full", fiber.StatusServiceUnavailable},
		{"player error", game.ErrInsufficientBalance, game.ErrInsufficientBalance.Error(), fiber.StatusBadRequest},
		{"wrapped ledger error", errors.New("other"), "other", fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err, tt.reason); got != tt.want {
				t.Errorf("statusFor = %d, want %d", got, tt.want)
			}
		})
	}
}
