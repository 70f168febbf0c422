package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/seenimoa/volsurf/internal/surface"
	"github.com/seenimoa/volsurf/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "surfaces.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSurface(t *testing.T, symbol string, asOf time.Time) *surface.Surface {
	t.Helper()
	exp1 := time.Date(2027, 2, 19, 16, 0, 0, 0, time.UTC)
	exp2 := time.Date(2027, 8, 20, 16, 0, 0, 0, time.UTC)
	results := []models.ImpliedVolatilityResult{
		{Strike: 90, Expiration: exp1, Vol: 0.25, Converged: true},
		{Strike: 100, Expiration: exp1, Vol: 0.20, Converged: true},
		{Strike: 100, Expiration: exp2, Vol: 0.22, Converged: true},
		{Strike: 110, Expiration: exp2, Vol: 0.24, Converged: true},
	}
	surf, err := surface.New(symbol, asOf, results)
	if err != nil {
		t.Fatal(err)
	}
	return surf
}

func TestPersistLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	orig := testSurface(t, "SPY", asOf)

	key, err := s.Persist(ctx, orig)
	if err != nil {
		t.Fatal(err)
	}
	if want := Key("SPY", asOf); key != want {
		t.Errorf("key = %q, want %q", key, want)
	}

	loaded, err := s.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Symbol() != "SPY" || !loaded.AsOf().Equal(asOf) {
		t.Errorf("identity = %s @ %v", loaded.Symbol(), loaded.AsOf())
	}
	if loaded.Points() != orig.Points() {
		t.Errorf("points = %d, want %d", loaded.Points(), orig.Points())
	}
	for _, strike := range orig.Strikes() {
		for _, expiry := range orig.Expiries() {
			want, ok := orig.Vol(strike, expiry)
			got, ok2 := loaded.Vol(strike, expiry)
			if ok != ok2 {
				t.Fatalf("hole mismatch at (%v, %v)", strike, expiry)
			}
			if ok && math.Abs(got-want) > 1e-12 {
				t.Errorf("vol at (%v, %v) = %v, want %v", strike, expiry, got, want)
			}
		}
	}
}

func TestLoadMissingKey(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "SPY@2026-08-26T00:00:00Z")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPersistOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

	if _, err := s.Persist(ctx, testSurface(t, "SPY", asOf)); err != nil {
		t.Fatal(err)
	}

	exp := time.Date(2027, 2, 19, 16, 0, 0, 0, time.UTC)
	replacement, err := surface.New("SPY", asOf, []models.ImpliedVolatilityResult{
		{Strike: 100, Expiration: exp, Vol: 0.30, Converged: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	key, err := s.Persist(ctx, replacement)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Points() != 1 {
		t.Errorf("points after overwrite = %d, want 1", loaded.Points())
	}
}

func TestLoadCorruptPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO surfaces (key, symbol, as_of, version, payload, created_at)
VALUES ('bad', 'SPY', '2026-08-26T14:30:00Z', ?, 'not json', '2026-08-26T14:30:00Z')`,
		schemaVersion)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Load(ctx, "bad")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DecodeError", err)
	}
}

func TestLoadSchemaVersionMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO surfaces (key, symbol, as_of, version, payload, created_at)
VALUES ('old', 'SPY', '2026-08-26T14:30:00Z', ?, '{}', '2026-08-26T14:30:00Z')`,
		schemaVersion+1)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Load(ctx, "old")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DecodeError", err)
	}
}

func TestLoadMismatchedArrays(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	payload := `{"symbol":"SPY","as_of":"2026-08-26T14:30:00Z","strikes":[100],"expiries":[],"vols":[0.2]}`
	_, err := s.db.ExecContext(ctx, `
INSERT INTO surfaces (key, symbol, as_of, version, payload, created_at)
VALUES ('skewed', 'SPY', '2026-08-26T14:30:00Z', ?, ?, '2026-08-26T14:30:00Z')`,
		schemaVersion, payload)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Load(ctx, "skewed")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DecodeError", err)
	}
}

func TestKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	early := time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)

	if _, err := s.Persist(ctx, testSurface(t, "SPY", early)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Persist(ctx, testSurface(t, "SPY", late)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Persist(ctx, testSurface(t, "AAPL", early)); err != nil {
		t.Fatal(err)
	}

	keys, err := s.Keys(ctx, "SPY")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0] != Key("SPY", late) {
		t.Errorf("keys[0] = %q, want newest first", keys[0])
	}
}
