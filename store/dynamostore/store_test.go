package dynamostore_test

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tradojo/booking/store"
	"github.com/tradojo/booking/store/dynamostore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := dynamostore.DefaultConfig()

	if cfg.IndexTable != "booking_indexes" {
		t.Errorf("expected IndexTable 'booking_indexes', got %q", cfg.IndexTable)
	}
	if cfg.UniqueTable != "booking_unique_constraints" {
		t.Errorf("expected UniqueTable 'booking_unique_constraints', got %q", cfg.UniqueTable)
	}
	if cfg.NumShards != 1 {
		t.Errorf("expected NumShards 1, got %d", cfg.NumShards)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    dynamostore.Config
		shards int
	}{
		{"zero NumShards gets set to 1", dynamostore.Config{NumShards: 0}, 1},
		{"negative NumShards gets set to 1", dynamostore.Config{NumShards: -5}, 1},
		{"NumShards over 256 gets capped", dynamostore.Config{NumShards: 500}, 256},
		{"NumShards at max is kept", dynamostore.Config{NumShards: 256}, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dynamostore.New(nil, tt.cfg).Config()
			if cfg.NumShards != tt.shards {
				t.Errorf("expected NumShards %d, got %d", tt.shards, cfg.NumShards)
			}
			if cfg.IndexTable == "" || cfg.UniqueTable == "" || cfg.TablePrefix == "" {
				t.Errorf("expected default table names, got %+v", cfg)
			}
		})
	}
}

func TestConfig_TableName(t *testing.T) {
	cfg := dynamostore.Config{
		TablePrefix: "prod_",
		Tables:      map[store.Kind]string{"user": "accounts"},
	}
	if got := cfg.TableName("travel"); got != "prod_travel" {
		t.Errorf("expected prefixed name, got %q", got)
	}
	if got := cfg.TableName("user"); got != "accounts" {
		t.Errorf("expected override, got %q", got)
	}
}

func TestEntityRef(t *testing.T) {
	if got := dynamostore.EntityRef("service", "s1"); got != "service#s1" {
		t.Errorf("EntityRef = %q", got)
	}
}

func TestIsDeleted(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name     string
		item     map[string]types.AttributeValue
		expected bool
	}{
		{"nil item", nil, false},
		{"no TTL attribute", map[string]types.AttributeValue{}, false},
		{"TTL in past", ttlItem("1000000000"), true},
		{"TTL in future", ttlItem(strconv.FormatInt(now+3600, 10)), false},
		{"TTL is now", ttlItem(strconv.FormatInt(now, 10)), true},
		{"zero TTL", ttlItem("0"), true},
		{"unparseable", ttlItem("soon"), false},
		{"wrong type", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberS{Value: "1"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := dynamostore.IsDeleted(tt.item); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func ttlItem(v string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: v}}
}

func BenchmarkIsDeleted(b *testing.B) {
	item := ttlItem(fmt.Sprintf("%d", time.Now().Unix()+3600))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dynamostore.IsDeleted(item)
	}
}
