package cachemanager

import "testing"

func TestInMemoryAuditLogRecentReturnsMostRecentFirst(t *testing.T) {
	log := NewInMemoryAuditLog(3)
	log.Record(Record{Pattern: "a"})
	log.Record(Record{Pattern: "b"})
	log.Record(Record{Pattern: "c"})

	recent := log.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recent))
	}
	if recent[0].Pattern != "c" || recent[1].Pattern != "b" || recent[2].Pattern != "a" {
		t.Fatalf("expected c,b,a order, got %v", recent)
	}
}

func TestInMemoryAuditLogWrapsAroundCapacity(t *testing.T) {
	log := NewInMemoryAuditLog(2)
	log.Record(Record{Pattern: "a"})
	log.Record(Record{Pattern: "b"})
	log.Record(Record{Pattern: "c"})

	recent := log.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 records after wraparound, got %d", len(recent))
	}
	if recent[0].Pattern != "c" || recent[1].Pattern != "b" {
		t.Fatalf("expected c,b order (a evicted), got %v", recent)
	}
}

func TestInMemoryAuditLogRecentNBeforeFull(t *testing.T) {
	log := NewInMemoryAuditLog(10)
	log.Record(Record{Pattern: "a"})

	recent := log.Recent(10)
	if len(recent) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recent))
	}
}

func TestNullAuditLogDiscardsRecords(t *testing.T) {
	var log NullAuditLog
	log.Record(Record{Pattern: "a"})
}
