package config

import (
	"testing"

	"github.com/iSundram/gruxi/pkg/models"
)

func TestBusCurrentStartsEmpty(t *testing.T) {
	b := NewBus()
	if got := b.Current(); got == nil || got.Revision != 0 {
		t.Fatalf("expected an empty seeded snapshot, got %+v", got)
	}
}

func TestBusPublishUpdatesCurrent(t *testing.T) {
	b := NewBus()
	snap := &models.ConfigSnapshot{Revision: 7}
	b.Publish(snap)
	if got := b.Current(); got.Revision != 7 {
		t.Fatalf("Current().Revision = %d, want 7", got.Revision)
	}
}

func TestBusSubscribersNotifiedInOrder(t *testing.T) {
	b := NewBus()
	var order []int
	b.Subscribe(func(s *models.ConfigSnapshot) { order = append(order, 1) })
	b.Subscribe(func(s *models.ConfigSnapshot) { order = append(order, 2) })

	b.Publish(&models.ConfigSnapshot{Revision: 1})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected subscribers notified in subscription order, got %v", order)
	}
}

func TestBusSubscribersSeeLatestSnapshot(t *testing.T) {
	b := NewBus()
	var seen *models.ConfigSnapshot
	b.Subscribe(func(s *models.ConfigSnapshot) { seen = s })

	snap := &models.ConfigSnapshot{Revision: 42}
	b.Publish(snap)

	if seen == nil || seen.Revision != 42 {
		t.Fatalf("expected subscriber to observe the published snapshot, got %+v", seen)
	}
}

func TestPortManagerBindAndRelease(t *testing.T) {
	pm := NewPortManager()

	if !pm.Bind("0.0.0.0", 80, 1) {
		t.Fatal("expected first bind to succeed")
	}
	if !pm.Bind("0.0.0.0", 80, 1) {
		t.Fatal("expected re-binding the same binding id to the same port to succeed")
	}
	if pm.Bind("0.0.0.0", 80, 2) {
		t.Fatal("expected binding a different id to an already-bound port to fail")
	}
	if !pm.IsBound("0.0.0.0", 80) {
		t.Fatal("expected port to be tracked as bound")
	}

	pm.Release("0.0.0.0", 80)
	if pm.IsBound("0.0.0.0", 80) {
		t.Fatal("expected port to be released")
	}
	if !pm.Bind("0.0.0.0", 80, 2) {
		t.Fatal("expected binding to succeed again after release")
	}
}

func TestPortManagerDistinctPortsIndependent(t *testing.T) {
	pm := NewPortManager()
	if !pm.Bind("0.0.0.0", 80, 1) {
		t.Fatal("expected bind on :80 to succeed")
	}
	if !pm.Bind("0.0.0.0", 443, 2) {
		t.Fatal("expected bind on :443 to succeed independently")
	}
}
