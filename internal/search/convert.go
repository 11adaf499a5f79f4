package search

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kon-rad/agent-tracker/internal/model"
)

// plain converts decoded BSON into JSON-friendly Go values: documents become
// map[string]any, arrays []any, BSON dates RFC 3339 strings.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case int32:
		return int64(x)
	case primitive.Decimal128:
		return json.Number(x.String())
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return x
	}
}

func plainMap(m bson.M) map[string]any {
	if m == nil {
		return nil
	}
	return plain(m).(map[string]any)
}

func metadataFromBSON(m bson.M) model.Metadata {
	if m == nil {
		return nil
	}
	return model.MetadataFromPlain(plainMap(m))
}

func metadataToBSON(md model.Metadata) bson.M {
	if md == nil {
		return nil
	}
	out := make(bson.M, len(md))
	for k, v := range md {
		out[k] = valueToBSON(v)
	}
	return out
}

// valueToBSON stores integer literals as int64, or as Decimal128 when they
// overflow int64, so ids decode back to the same digits.
func valueToBSON(v model.Value) any {
	switch v.Kind {
	case model.KindNumber:
		if v.Raw == "" {
			return v.Num
		}
		if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return n
		}
		if isIntegerLiteral(v.Raw) {
			if d, err := primitive.ParseDecimal128(v.Raw); err == nil {
				return d
			}
		}
		return v.Num
	case model.KindList:
		out := make(bson.A, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, valueToBSON(item))
		}
		return out
	case model.KindObject:
		out := make(bson.M, len(v.Object))
		for k, item := range v.Object {
			out[k] = valueToBSON(item)
		}
		return out
	default:
		return v.Any()
	}
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
