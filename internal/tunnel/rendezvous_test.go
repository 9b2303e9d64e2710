package tunnel

import (
	"testing"
	"time"
)

func TestRegisterAndClaim(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, DefaultPendingTTL)
	id := NewConnectionID()

	pipe := pr.Register(id)
	if pipe == nil {
		t.Fatal("Register returned nil pipe")
	}
	if pr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pr.Len())
	}

	claimed, ok := pr.Claim(id)
	if !ok {
		t.Fatal("Claim reported miss for a registered id")
	}
	if claimed != pipe {
		t.Error("Claim returned a different pipe than Register")
	}
	if pr.Len() != 0 {
		t.Errorf("Len() after claim = %d, want 0", pr.Len())
	}
}

func TestClaimMiss(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, DefaultPendingTTL)
	_, ok := pr.Claim(NewConnectionID())
	if ok {
		t.Fatal("Claim should miss for an id that was never registered")
	}
}

func TestClaimIsOneShot(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, DefaultPendingTTL)
	id := NewConnectionID()
	pr.Register(id)

	if _, ok := pr.Claim(id); !ok {
		t.Fatal("first claim should succeed")
	}
	if _, ok := pr.Claim(id); ok {
		t.Fatal("second claim of the same id should miss")
	}
}

func TestDropRemovesEntry(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, DefaultPendingTTL)
	id := NewConnectionID()
	pr.Register(id)
	pr.Drop(id)

	if pr.Len() != 0 {
		t.Errorf("Len() after drop = %d, want 0", pr.Len())
	}
	if _, ok := pr.Claim(id); ok {
		t.Fatal("claim should miss after drop")
	}
}

func TestReapExpiredDropsOldEntriesAndCancelsPipe(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, DefaultPendingTTL)
	id := NewConnectionID()
	pipe := pr.Register(id)
	pipe.registeredAt = time.Now().Add(-pr.ttl - time.Second)

	fresh := NewConnectionID()
	pr.Register(fresh)

	expired := pr.ReapExpired()
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("ReapExpired = %v, want [%v]", expired, id)
	}
	if pr.Len() != 1 {
		t.Errorf("Len() after reap = %d, want 1 (fresh entry kept)", pr.Len())
	}

	select {
	case <-pipe.Done():
	default:
		t.Error("reaped pipe's Done() should be closed")
	}
}

func TestNewPendingRendezvousHonorsQueueSize(t *testing.T) {
	pr := NewPendingRendezvous(3, DefaultPendingTTL)
	pipe := pr.Register(NewConnectionID())

	for i := 0; i < 3; i++ {
		select {
		case pipe.ToSocket <- []byte{byte(i)}:
		default:
			t.Fatalf("ToSocket blocked before reaching configured capacity 3 at %d", i)
		}
	}
	select {
	case pipe.ToSocket <- []byte{0xFF}:
		t.Fatal("ToSocket accepted a send beyond its configured capacity of 3")
	default:
	}
}

func TestNewPendingRendezvousHonorsTTL(t *testing.T) {
	pr := NewPendingRendezvous(DefaultDataQueueSize, 10*time.Millisecond)
	id := NewConnectionID()
	pr.Register(id)

	time.Sleep(20 * time.Millisecond)

	expired := pr.ReapExpired()
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("ReapExpired = %v, want [%v] under a 10ms configured ttl", expired, id)
	}
}

func TestConnectionPipeQueueCapacity(t *testing.T) {
	pipe := newConnectionPipe(DefaultDataQueueSize)
	for i := 0; i < DefaultDataQueueSize; i++ {
		select {
		case pipe.ToSocket <- []byte{byte(i)}:
		default:
			t.Fatalf("ToSocket blocked before reaching capacity at %d", i)
		}
	}
	select {
	case pipe.ToSocket <- []byte{0xFF}:
		t.Fatal("ToSocket accepted a send beyond its configured capacity")
	default:
	}
}
