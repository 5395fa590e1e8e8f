package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func TestGetStringAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"name":    events.NewStringAttribute("test-value"),
		"empty":   events.NewStringAttribute(""),
		"unicode": events.NewStringAttribute("café 日本"),
		"number":  events.NewNumberAttribute("42"),
	}

	tests := []struct {
		image map[string]events.DynamoDBAttributeValue
		key   string
		want  string
	}{
		{image, "name", "test-value"},
		{image, "empty", ""},
		{image, "unicode", "café 日本"},
		{image, "number", ""},
		{image, "missing", ""},
		{map[string]events.DynamoDBAttributeValue{}, "name", ""},
		{nil, "name", ""},
	}
	for _, tt := range tests {
		if got := getStringAttr(tt.image, tt.key); got != tt.want {
			t.Errorf("getStringAttr(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGetNumberAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"ttl":      events.NewNumberAttribute("1700000000"),
		"zero":     events.NewNumberAttribute("0"),
		"negative": events.NewNumberAttribute("-7"),
		"large":    events.NewNumberAttribute("9223372036854775807"),
		"string":   events.NewStringAttribute("1700000000"),
		"garbage":  events.NewNumberAttribute("1.5e3"),
	}

	tests := []struct {
		image   map[string]events.DynamoDBAttributeValue
		key     string
		want    int64
		wantErr bool
	}{
		{image, "ttl", 1700000000, false},
		{image, "zero", 0, false},
		{image, "negative", -7, false},
		{image, "large", 9223372036854775807, false},
		{image, "string", 0, true},
		{image, "garbage", 0, true},
		{image, "missing", 0, false},
		{nil, "ttl", 0, false},
	}
	for _, tt := range tests {
		got, err := getNumberAttr(tt.image, tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("getNumberAttr(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("getNumberAttr(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestGetStringMapAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"indexes": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"owner": events.NewStringAttribute("u1"),
			"count": events.NewNumberAttribute("3"),
		}),
		"name": events.NewStringAttribute("x"),
	}

	got := getStringMapAttr(image, "indexes")
	if len(got) != 1 || got["owner"] != "u1" {
		t.Errorf("expected only the string member, got %v", got)
	}
	if got := getStringMapAttr(image, "name"); got != nil {
		t.Errorf("expected nil for a non-map attribute, got %v", got)
	}
	if got := getStringMapAttr(image, "missing"); got != nil {
		t.Errorf("expected nil for a missing key, got %v", got)
	}
	if got := getStringMapAttr(nil, "indexes"); got != nil {
		t.Errorf("expected nil for a nil image, got %v", got)
	}
}

func TestRemoved(t *testing.T) {
	image := func(ttl string) map[string]events.DynamoDBAttributeValue {
		m := map[string]events.DynamoDBAttributeValue{
			"id":   events.NewStringAttribute("t1"),
			"kind": events.NewStringAttribute("travel"),
		}
		if ttl != "" {
			m["ttl"] = events.NewNumberAttribute(ttl)
		}
		return m
	}
	record := func(name string, oldImage, newImage map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
		return events.DynamoDBEventRecord{
			EventName: name,
			Change:    events.DynamoDBStreamRecord{OldImage: oldImage, NewImage: newImage},
		}
	}

	tests := []struct {
		name    string
		record  events.DynamoDBEventRecord
		want    bool
		wantErr bool
	}{
		{"insert", record("INSERT", nil, image("")), false, false},
		{"plain modify", record("MODIFY", image(""), image("")), false, false},
		{"ttl newly set", record("MODIFY", image(""), image("1700000000")), true, false},
		{"ttl already set", record("MODIFY", image("1700000000"), image("1700000001")), false, false},
		{"ttl zero", record("MODIFY", image(""), image("0")), false, false},
		{"hard remove", record("REMOVE", image(""), nil), true, false},
		{"expiry", record("REMOVE", image("1700000000"), nil), false, false},
		{"malformed new ttl", record("MODIFY", image(""), image("soon")), false, true},
		{"malformed old ttl", record("REMOVE", image("1.5"), nil), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok, err := removed(tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("removed error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.want {
				t.Fatalf("removed = %v, want %v", ok, tt.want)
			}
			if ok && (r.kind != "travel" || r.id != "t1") {
				t.Errorf("unexpected removal %+v", r)
			}
		})
	}
}

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"name": events.NewStringAttribute("test-value"),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "name")
	}
}

func BenchmarkGetNumberAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"ttl": events.NewNumberAttribute("1700000000"),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getNumberAttr(image, "ttl")
	}
}
