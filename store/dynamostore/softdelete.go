package dynamostore

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Delete stamps a document's ttl attribute with the time of deletion and the
// table's TTL process purges it later. Until then an item whose ttl has passed
// reads as absent and its id may be taken again by Create.
const (
	ttlAttr = "ttl"

	// liveFilter keeps items that are not soft deleted.
	liveFilter = "attribute_not_exists(#ttl) OR #ttl > :now"

	// vacantCondition lets a put replace a missing or soft-deleted item.
	vacantCondition = "attribute_not_exists(id) OR #ttl <= :now"
)

// IsDeleted reports whether a raw item has been soft deleted.
func IsDeleted(item map[string]types.AttributeValue) bool {
	return deletedBy(item, time.Now())
}

func deletedBy(item map[string]types.AttributeValue, now time.Time) bool {
	n, ok := item[ttlAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && ttl <= now.Unix()
}

// exprAttrs holds the placeholder bindings of one condition, filter or
// update expression. Every expression here refers to the ttl, so #ttl and
// :now are always bound.
type exprAttrs struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func ttlAttrs(now time.Time) exprAttrs {
	return exprAttrs{
		names:  map[string]string{"#ttl": ttlAttr},
		values: map[string]types.AttributeValue{":now": unixNumber(now)},
	}
}

func (a exprAttrs) name(placeholder, attr string) exprAttrs {
	a.names[placeholder] = attr
	return a
}

func (a exprAttrs) value(placeholder string, v types.AttributeValue) exprAttrs {
	a.values[placeholder] = v
	return a
}

func unixNumber(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
