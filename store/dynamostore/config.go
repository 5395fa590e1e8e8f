package dynamostore

import "github.com/tradojo/booking/store"

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// TablePrefix is prepended to the kind to name a document table
	// ("booking_" + "travel"). Tables overrides individual kinds.
	// Default: "booking_"
	TablePrefix string

	// Tables maps a kind to an explicit table name.
	Tables map[store.Kind]string

	// IndexTable is the name of the index table.
	// Default: "booking_indexes"
	IndexTable string

	// UniqueTable is the name of the unique constraints table.
	// Default: "booking_unique_constraints"
	UniqueTable string

	// NumShards is the number of shards per index posting list.
	// Higher values increase write throughput for one index value but
	// require more parallel queries on Find.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		TablePrefix: "booking_",
		IndexTable:  "booking_indexes",
		UniqueTable: "booking_unique_constraints",
		NumShards:   1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "booking_"
	}
	if c.IndexTable == "" {
		c.IndexTable = "booking_indexes"
	}
	if c.UniqueTable == "" {
		c.UniqueTable = "booking_unique_constraints"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}

// TableName returns the document table for kind.
func (c Config) TableName(kind store.Kind) string {
	if name, ok := c.Tables[kind]; ok && name != "" {
		return name
	}
	return c.TablePrefix + string(kind)
}
