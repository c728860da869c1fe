package sutra

import (
	"testing"

	"github.com/sutra-kernel/sutra/core"
)

// TestSharedMemoryManager_S4 is scenario S4 from spec.md §8.
func TestSharedMemoryManager_S4(t *testing.T) {
	m := NewSharedMemoryManager(nil)
	if err := m.CreateRegion("cfg", "p", []string{"*"}, RegionOptions{MaxSize: 2}); err != nil {
		t.Fatalf("create region: %v", err)
	}

	var versions []int64
	unsub, err := m.WatchRegion("cfg", func(key string, value interface{}, version int64) error {
		versions = append(versions, version)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unsub()

	v1, err := m.Write("cfg", "k1", 1, "q")
	if err != nil || v1 != 1 {
		t.Fatalf("write k1: version=%d err=%v", v1, err)
	}
	v2, err := m.Write("cfg", "k2", 2, "r")
	if err != nil || v2 != 2 {
		t.Fatalf("write k2: version=%d err=%v", v2, err)
	}
	if _, err := m.Write("cfg", "k3", 3, "s"); !core.IsKind(err, core.KindFull) {
		t.Fatalf("expected full error on third key, got %v", err)
	}

	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("expected watcher invoked with versions [1 2], got %v", versions)
	}
}

func TestSharedMemoryManager_WriteDeniedWithoutAccess(t *testing.T) {
	m := NewSharedMemoryManager(nil)
	if err := m.CreateRegion("cfg", "owner", []string{"owner"}, RegionOptions{}); err != nil {
		t.Fatalf("create region: %v", err)
	}
	if _, err := m.Write("cfg", "k", 1, "intruder"); !core.IsKind(err, core.KindDenied) {
		t.Fatalf("expected denied error, got %v", err)
	}
}

func TestSharedMemoryManager_ReadAbsent(t *testing.T) {
	m := NewSharedMemoryManager(nil)
	if err := m.CreateRegion("cfg", "owner", []string{"*"}, RegionOptions{}); err != nil {
		t.Fatalf("create region: %v", err)
	}
	v, err := m.Read("cfg", "missing")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v.IsSome() {
		t.Fatalf("expected absent, got %v", v.Value())
	}
}

func TestSharedMemoryManager_DeleteRequiresOwner(t *testing.T) {
	m := NewSharedMemoryManager(nil)
	if err := m.CreateRegion("cfg", "owner", []string{"*"}, RegionOptions{}); err != nil {
		t.Fatalf("create region: %v", err)
	}
	if err := m.DeleteRegion("cfg", "intruder"); !core.IsKind(err, core.KindDenied) {
		t.Fatalf("expected denied error, got %v", err)
	}
	if err := m.DeleteRegion("cfg", "owner"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestSharedMemoryManager_WatcherPanicDoesNotBreakWrite(t *testing.T) {
	m := NewSharedMemoryManager(nil)
	if err := m.CreateRegion("cfg", "owner", []string{"*"}, RegionOptions{}); err != nil {
		t.Fatalf("create region: %v", err)
	}
	if _, err := m.WatchRegion("cfg", func(string, interface{}, int64) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	version, err := m.Write("cfg", "k", 1, "owner")
	if err != nil {
		t.Fatalf("write should succeed despite panicking watcher: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}
}
