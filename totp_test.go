package courierAuth

import (
	"context"
	"encoding/base32"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTOTPMatchRFCVectors(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "Courier", Period: 30, Skew: 0}, nil)
	secret := base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	// RFC 6238 SHA1 vectors truncated to six digits.
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, tc := range cases {
		step, ok, err := m.Match(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
		if step != tc.ts/30 {
			t.Fatalf("expected step %d, got %d", tc.ts/30, step)
		}
	}
}

func TestTOTPMatchSkewWindow(t *testing.T) {
	secret := base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))
	at := time.Unix(1111111109, 0)

	strict := newTOTPManager(TOTPConfig{Period: 30, Skew: 0}, nil)
	if _, ok, _ := strict.Match(secret, "081804", at.Add(30*time.Second)); ok {
		t.Fatal("expected previous step to be rejected without skew")
	}

	lenient := newTOTPManager(TOTPConfig{Period: 30, Skew: 1}, nil)
	step, ok, err := lenient.Match(secret, "081804", at.Add(30*time.Second))
	if err != nil || !ok {
		t.Fatalf("expected previous step to match with skew 1, ok=%v err=%v", ok, err)
	}
	if step != 1111111109/30 {
		t.Fatalf("expected the matched step to be reported, got %d", step)
	}
	if _, ok, _ := lenient.Match(secret, "081804", at.Add(90*time.Second)); ok {
		t.Fatal("expected code two steps old to be rejected")
	}
}

func TestTOTPMarkUsedOncePerStep(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	m := newTOTPManager(TOTPConfig{Period: 30, Skew: 1, RedisPrefix: "ctu"}, rdb)
	ctx := context.Background()

	fresh, err := m.MarkUsed(ctx, RoleAgent, "a1", 42)
	if err != nil || !fresh {
		t.Fatalf("expected first use to be fresh, fresh=%v err=%v", fresh, err)
	}
	fresh, err = m.MarkUsed(ctx, RoleAgent, "a1", 42)
	if err != nil || fresh {
		t.Fatalf("expected second use to be rejected, fresh=%v err=%v", fresh, err)
	}
	fresh, _ = m.MarkUsed(ctx, RoleUser, "a1", 42)
	if !fresh {
		t.Fatal("expected steps to be tracked per role")
	}
	if ttl := mr.TTL("ctu:agent:a1:42"); ttl != 90*time.Second {
		t.Fatalf("expected the marker to outlive the skew window, got %v", ttl)
	}

	mr.FastForward(91 * time.Second)
	if fresh, _ := m.MarkUsed(ctx, RoleAgent, "a1", 42); !fresh {
		t.Fatal("expected marker to expire after the window")
	}
}

func TestNormalizeTOTPCode(t *testing.T) {
	cases := map[string]bool{
		"123456":   true,
		" 123 456": true,
		"12345":    false,
		"1234567":  false,
		"12a456":   false,
		"":         false,
	}
	for in, want := range cases {
		if _, ok := normalizeTOTPCode(in); ok != want {
			t.Fatalf("normalizeTOTPCode(%q) ok=%v, want %v", in, ok, want)
		}
	}
}
