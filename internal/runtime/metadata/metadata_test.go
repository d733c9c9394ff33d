package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatal("expected empty non-nil map")
	}
}

func TestWith(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With(KeyPriority, "5")
	if base.Get(KeyPriority) != "" {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched.Get(KeyPriority) != "5" || enriched.Get("foo") != "bar" {
		t.Fatalf("unexpected enriched map %v", enriched)
	}
}

func TestExtraDropsReservedKeys(t *testing.T) {
	md := New(KeySource, "/1/1/8001", KeyCorrelationID, "x", "vin", "WVW")
	extra := md.Extra()
	if len(extra) != 1 || extra["vin"] != "WVW" {
		t.Fatalf("expected only custom keys, got %v", extra)
	}
	if !IsReserved(KeyTTL) || IsReserved("vin") {
		t.Fatal("unexpected reservation result")
	}
}

func TestNewIgnoresDanglingKey(t *testing.T) {
	md := New("key", "value", "dangling")
	if len(md) != 1 || md["key"] != "value" {
		t.Fatalf("unexpected metadata %v", md)
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	if wm["source"] != "api" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm["source"] = "mutation"
	if md["source"] != "api" {
		t.Fatalf("expected original metadata to be immutable to watermill changes")
	}

	if len(ToWatermill(nil)) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}

	back := FromWatermill(message.Metadata{KeyType: "pub"})
	if back.Get(KeyType) != "pub" {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if FromWatermill(nil) == nil {
		t.Fatal("expected non-nil map")
	}
}
