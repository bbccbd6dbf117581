package ipban

import (
	"context"
	"testing"
	"time"

	"github.com/vesselkit/vessel/internal/kvstore"
	"github.com/vesselkit/vessel/internal/logging"
)

func newTestService(threshold int) *Service {
	return New(kvstore.NewMemory(128), Options{Threshold: threshold, TTL: time.Hour}, logging.NewNop())
}

func TestBanCrossesThreshold(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(3)

	for i := 1; i <= 2; i++ {
		if svc.IsBanned(ctx, "203.0.113.7") {
			t.Fatalf("banned too early at attempt %d", i)
		}
		if n, ok := svc.Ban(ctx, "203.0.113.7", 0, false); !ok || n != i {
			t.Fatalf("attempt %d: got (%d, %v)", i, n, ok)
		}
	}

	if svc.IsBanned(ctx, "203.0.113.7") {
		t.Fatal("threshold 3 must not ban after 2 attempts")
	}
	svc.Ban(ctx, "203.0.113.7", 0, false)
	if !svc.IsBanned(ctx, "203.0.113.7") {
		t.Fatal("expected ban after threshold attempts")
	}
}

func TestAllowListShortCircuits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(1)
	svc.LoadWhitelist([]string{"203.0.113.7"}, []string{"10.0.0.0/8"})

	if n, ok := svc.Ban(ctx, "203.0.113.7", 0, false); ok || n != 0 {
		t.Fatalf("ban of allow-listed ip must be a no-op, got (%d, %v)", n, ok)
	}
	if svc.IsBanned(ctx, "203.0.113.7") {
		t.Fatal("allow-listed ip can never be banned")
	}

	// CIDR membership.
	svc.Ban(ctx, "10.1.2.3", 0, false)
	if svc.IsBanned(ctx, "10.1.2.3") {
		t.Fatal("ip in allow-listed network can never be banned")
	}
}

func TestDenyList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(100)
	svc.AddBlacklist("198.51.100.4")
	svc.AddBlacklist("2001:db8::/32")

	if !svc.IsBanned(ctx, "198.51.100.4") {
		t.Error("deny-listed ip must be banned without attempts")
	}
	if !svc.IsBanned(ctx, "2001:db8::99") {
		t.Error("ip in deny-listed network must be banned")
	}
	if svc.IsBanned(ctx, "198.51.100.5") {
		t.Error("unrelated ip must not be banned")
	}
}

func TestAllowBeatsDeny(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(100)
	svc.LoadWhitelist([]string{"198.51.100.4"}, nil)
	svc.AddBlacklist("198.51.100.0/24")

	if svc.IsBanned(ctx, "198.51.100.4") {
		t.Fatal("allow list is evaluated before deny list")
	}
}

func TestPermanentBanSurvivesTTL(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(128)
	svc := New(store, Options{Threshold: 5, TTL: time.Minute}, logging.NewNop())

	if _, ok := svc.Ban(ctx, "203.0.113.9", 0, true); !ok {
		t.Fatal("permanent ban failed")
	}
	if !svc.IsBanned(ctx, "203.0.113.9") {
		t.Fatal("permanent ban must take effect below threshold")
	}
}

func TestUnban(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(1)

	svc.Ban(ctx, "203.0.113.9", 0, false)
	if !svc.IsBanned(ctx, "203.0.113.9") {
		t.Fatal("expected ban")
	}
	svc.Unban(ctx, "203.0.113.9")
	if svc.IsBanned(ctx, "203.0.113.9") {
		t.Fatal("expected unban to clear record")
	}
	if svc.Attempts(ctx, "203.0.113.9") != 0 {
		t.Fatal("expected attempts reset")
	}
}

func TestExpiryResetsCounter(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(2)

	svc.Ban(ctx, "203.0.113.9", time.Nanosecond, false)
	time.Sleep(2 * time.Millisecond)
	if svc.IsBanned(ctx, "203.0.113.9") {
		t.Fatal("expired record must not ban")
	}
	if n, _ := svc.Ban(ctx, "203.0.113.9", 0, false); n != 1 {
		t.Fatalf("expected counter restart at 1, got %d", n)
	}
}

func TestShouldCountDefaults(t *testing.T) {
	svc := newTestService(3)
	for _, status := range []int{404, 405, 501} {
		if !svc.ShouldCount(status) {
			t.Errorf("status %d should count by default", status)
		}
	}
	for _, status := range []int{200, 400, 403, 429, 500} {
		if svc.ShouldCount(status) {
			t.Errorf("status %d should not count", status)
		}
	}
}
