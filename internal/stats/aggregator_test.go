package stats

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"gkipass/telemetry/internal/store"
	"gkipass/telemetry/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(&logger.Config{Level: "error"})
	os.Exit(m.Run())
}

// memStore 测试用的内存存储
type memStore struct {
	mu    sync.Mutex
	saved []store.State
	err   error
}

func (m *memStore) Save(st store.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, st)
	return nil
}

func (m *memStore) last() store.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return store.State{}
	}
	return m.saved[len(m.saved)-1]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func TestRecordBytesTransferred(t *testing.T) {
	t.Run("同一用户累计字节数", func(t *testing.T) {
		agg := NewAggregator(&memStore{})
		agg.RecordBytesTransferred("user-1", 100, nil)
		agg.RecordBytesTransferred("user-1", 50, nil)

		snap := agg.Snapshot()
		if snap.Users["user-1"].Bytes != 150 {
			t.Errorf("expected 150, got %d", snap.Users["user-1"].Bytes)
		}
	})

	t.Run("不同用户互不影响", func(t *testing.T) {
		agg := NewAggregator(&memStore{})
		agg.RecordBytesTransferred("user-1", 100, nil)
		agg.RecordBytesTransferred("user-2", 7, nil)

		snap := agg.Snapshot()
		if len(snap.Users) != 2 {
			t.Fatalf("expected 2 users, got %d", len(snap.Users))
		}
		if snap.Users["user-2"].Bytes != 7 {
			t.Errorf("expected 7, got %d", snap.Users["user-2"].Bytes)
		}
	})

	t.Run("地址匿名化并按网段去重", func(t *testing.T) {
		agg := NewAggregator(&memStore{})
		agg.RecordBytesTransferred("user-1", 1, []string{"1.2.3.4", "1.2.3.77"})
		agg.RecordBytesTransferred("user-1", 1, []string{"1.2.3.200"})

		snap := agg.Snapshot()
		ips := snap.Users["user-1"].IPs
		if len(ips) != 1 || ips[0] != "1.2.3.0" {
			t.Errorf("expected [1.2.3.0], got %v", ips)
		}
	})

	t.Run("非法地址跳过但字节照常累计", func(t *testing.T) {
		agg := NewAggregator(&memStore{})
		agg.RecordBytesTransferred("user-1", 42, []string{"bogus", "9.9.9.9"})

		snap := agg.Snapshot()
		if snap.Users["user-1"].Bytes != 42 {
			t.Errorf("expected 42, got %d", snap.Users["user-1"].Bytes)
		}
		ips := snap.Users["user-1"].IPs
		if len(ips) != 1 || ips[0] != "9.9.9.0" {
			t.Errorf("expected [9.9.9.0], got %v", ips)
		}
	})

	t.Run("每次记录后立即持久化", func(t *testing.T) {
		ms := &memStore{}
		agg := NewAggregator(ms)
		agg.RecordBytesTransferred("user-1", 10, []string{"1.2.3.4"})

		if ms.count() == 0 {
			t.Fatal("record should trigger a durable write")
		}
		st := ms.last()
		if st.Users["user-1"].BytesTransferred != 10 {
			t.Errorf("expected 10 in persisted state, got %d", st.Users["user-1"].BytesTransferred)
		}
		if len(st.Users["user-1"].AnonymizedIPAddresses) != 1 {
			t.Errorf("expected 1 persisted address, got %v", st.Users["user-1"].AnonymizedIPAddresses)
		}
	})

	t.Run("持久化失败不影响内存累计", func(t *testing.T) {
		agg := NewAggregator(&memStore{err: errors.New("disk full")})
		agg.RecordBytesTransferred("user-1", 5, nil)

		snap := agg.Snapshot()
		if snap.Users["user-1"].Bytes != 5 {
			t.Errorf("expected 5, got %d", snap.Users["user-1"].Bytes)
		}
	})
}

func TestReset(t *testing.T) {
	ms := &memStore{}
	agg := NewAggregator(ms)
	agg.RecordBytesTransferred("user-1", 100, []string{"1.2.3.4"})

	before := agg.WindowStart()
	agg.Reset()

	if agg.HasUsers() {
		t.Error("reset should clear all users")
	}
	if agg.WindowStart().Before(before) {
		t.Error("reset should move window start forward")
	}

	st := ms.last()
	if len(st.Users) != 0 {
		t.Errorf("persisted state should be empty after reset, got %d users", len(st.Users))
	}
	if st.StartTimestamp <= 0 {
		t.Error("persisted start timestamp should be set after reset")
	}
}

func TestRestore(t *testing.T) {
	t.Run("完整还原窗口", func(t *testing.T) {
		start := time.Now().Add(-30 * time.Minute).UnixMilli()
		agg := NewAggregator(&memStore{})
		agg.Restore(store.State{
			StartTimestamp: start,
			Users: map[string]store.UserStats{
				"user-1": {BytesTransferred: 1024, AnonymizedIPAddresses: []string{"1.2.3.0", "4.5.6.0"}},
			},
		})

		if agg.WindowStart().UnixMilli() != start {
			t.Errorf("expected start %d, got %d", start, agg.WindowStart().UnixMilli())
		}
		snap := agg.Snapshot()
		if snap.Users["user-1"].Bytes != 1024 {
			t.Errorf("expected 1024, got %d", snap.Users["user-1"].Bytes)
		}
		if len(snap.Users["user-1"].IPs) != 2 {
			t.Errorf("expected 2 addresses, got %v", snap.Users["user-1"].IPs)
		}
	})

	t.Run("空状态开启新窗口", func(t *testing.T) {
		ms := &memStore{}
		agg := NewAggregator(ms)
		before := time.Now()
		agg.Restore(store.State{})

		if agg.HasUsers() {
			t.Error("empty state should restore to empty window")
		}
		if agg.WindowStart().Before(before.Add(-time.Second)) {
			t.Error("empty state should start a fresh window at now")
		}
		if ms.count() == 0 {
			t.Error("fresh window start should be persisted")
		}
	})

	t.Run("序列化再恢复保持等价", func(t *testing.T) {
		ms := &memStore{}
		agg := NewAggregator(ms)
		agg.RecordBytesTransferred("user-1", 100, []string{"1.2.3.4", "2001:db8:1:2::5"})
		agg.RecordBytesTransferred("user-2", 9, nil)

		restored := NewAggregator(&memStore{})
		restored.Restore(ms.last())

		orig := agg.Snapshot()
		got := restored.Snapshot()

		if got.Start.UnixMilli() != orig.Start.UnixMilli() {
			t.Errorf("window start mismatch: %d != %d", got.Start.UnixMilli(), orig.Start.UnixMilli())
		}
		if len(got.Users) != len(orig.Users) {
			t.Fatalf("user count mismatch: %d != %d", len(got.Users), len(orig.Users))
		}
		for id, u := range orig.Users {
			r := got.Users[id]
			if r.Bytes != u.Bytes {
				t.Errorf("user %s bytes mismatch: %d != %d", id, r.Bytes, u.Bytes)
			}
			if len(r.IPs) != len(u.IPs) {
				t.Errorf("user %s address count mismatch: %v != %v", id, r.IPs, u.IPs)
				continue
			}
			for i := range u.IPs {
				if r.IPs[i] != u.IPs[i] {
					t.Errorf("user %s address mismatch at %d: %s != %s", id, i, r.IPs[i], u.IPs[i])
				}
			}
		}
	})
}

func TestSnapshotDeepCopy(t *testing.T) {
	agg := NewAggregator(&memStore{})
	agg.RecordBytesTransferred("user-1", 1, []string{"1.2.3.4"})

	snap := agg.Snapshot()
	snap.Users["user-1"] = UserSnapshot{Bytes: 999}
	snap.Users["intruder"] = UserSnapshot{}

	again := agg.Snapshot()
	if again.Users["user-1"].Bytes != 1 {
		t.Error("mutating a snapshot must not affect the aggregator")
	}
	if _, ok := again.Users["intruder"]; ok {
		t.Error("mutating a snapshot must not affect the aggregator")
	}
}

func TestConcurrentRecord(t *testing.T) {
	agg := NewAggregator(&memStore{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.RecordBytesTransferred("user-1", 2, []string{"10.0.0.1"})
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	if snap.Users["user-1"].Bytes != 100 {
		t.Errorf("expected 100, got %d", snap.Users["user-1"].Bytes)
	}
}
