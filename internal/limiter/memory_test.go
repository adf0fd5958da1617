package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_BlocksAtThresholdAndExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory(5*time.Minute, 3, 10*time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()
	ip := HashIP("10.0.0.1")
	key := CodeKey("a@x.com")

	for i := 0; i < 2; i++ {
		if blocked, _, _ := l.Failure(ctx, key, ip); blocked {
			t.Fatalf("blocked after %d failures", i+1)
		}
	}
	blocked, dur, err := l.Failure(ctx, key, ip)
	if err != nil || !blocked || dur != 10*time.Minute {
		t.Fatalf("third failure: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if ok, retry, _ := l.Allow(ctx, key, ip); ok || retry != 10*time.Minute {
		t.Fatalf("Allow while blocked: ok=%v retry=%v", ok, retry)
	}
	if ok, _, _ := l.Allow(ctx, LoginKey("a@x.com"), ip); !ok {
		t.Fatalf("other scope must not be blocked")
	}

	now = now.Add(11 * time.Minute)
	if ok, _, _ := l.Allow(ctx, key, ip); !ok {
		t.Fatalf("block must expire")
	}
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory(time.Minute, 2, time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()
	ip := HashIP("10.0.0.2")

	_, _, _ = l.Failure(ctx, "k", ip)
	now = now.Add(2 * time.Minute)
	if blocked, _, _ := l.Failure(ctx, "k", ip); blocked {
		t.Fatalf("failure outside window must restart the count")
	}

	if err := l.Success(ctx, "k", ip); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := l.Failure(ctx, "k", ip); blocked {
		t.Fatalf("Success must reset the count")
	}
}
