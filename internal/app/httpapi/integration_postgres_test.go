//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/credit_layer/internal/app/auth"
	creditssvc "github.com/R3E-Network/credit_layer/internal/app/services/credits"
	"github.com/R3E-Network/credit_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/credit_layer/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations plus the core debit
// flow work with real persistence and row locking.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	email := "pg-integration@example.com"
	if _, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT DO NOTHING`, uuid.NewString(), email); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(),
			`DELETE FROM credit_transactions WHERE user_id IN (SELECT id FROM users WHERE email = $1)`, email)
		_, _ = db.ExecContext(context.Background(),
			`DELETE FROM user_credits WHERE user_id IN (SELECT id FROM users WHERE email = $1)`, email)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM users WHERE email = $1`, email)
	})

	store := postgres.New(db)
	verifier, err := auth.NewVerifier(testAPIKey, testSecret, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	handler := NewHandler(creditssvc.New(store, store, nil), Config{Verifier: verifier}, store, nil)

	server := httptest.NewServer(handler)
	defer server.Close()
	client := server.Client()

	u, err := store.ResolveEmail(ctx, email)
	if err != nil {
		t.Fatalf("resolve email: %v", err)
	}
	if _, _, err := store.Grant(ctx, u.ID, 100, "integration seed", ""); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	post := func(path string, body []byte) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+path, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(APIKeyHeader, testAPIKey)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		return resp
	}

	nonce := time.Now().Unix()
	debit, _ := json.Marshal(map[string]interface{}{
		"user_email": email,
		"amount":     30,
		"nonce":      nonce,
		"signature":  auth.Sign(testSecret, auth.DebitMessage(email, 30, nonce)),
	})
	resp := post("/credits/debit", debit)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("debit status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Over-debit must be refused by the locked balance check.
	nonce = time.Now().Unix()
	over, _ := json.Marshal(map[string]interface{}{
		"user_email": email,
		"amount":     80,
		"nonce":      nonce,
		"signature":  auth.Sign(testSecret, auth.DebitMessage(email, 80, nonce)),
	})
	resp = post("/credits/debit", over)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("over-debit status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	nonce = time.Now().Unix()
	balance, _ := json.Marshal(map[string]interface{}{
		"user_email": email,
		"nonce":      nonce,
		"signature":  auth.Sign(testSecret, auth.BalanceMessage(email, nonce)),
	})
	resp = post("/credits/balance", balance)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status: %d", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	resp.Body.Close()
	if out["credits"] != float64(70) {
		t.Fatalf("expected 70 credits after debit, got %v", out["credits"])
	}
}
