package edge

import (
	"fmt"
	"iter"

	"github.com/casualjim/strix"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Routes maps result keys to the node that runs next. Keys keep their insertion order.
type Routes struct {
	m *orderedmap.OrderedMap[string, strix.Node]
}

func NewRoutes() *Routes {
	return &Routes{m: orderedmap.New[string, strix.Node]()}
}

// Route adds or replaces the node for key.
func (r *Routes) Route(key string, to strix.Node) *Routes {
	r.m.Set(key, to)
	return r
}

func (r *Routes) Get(key string) (strix.Node, bool) {
	return r.m.Get(key)
}

func (r *Routes) Len() int {
	return r.m.Len()
}

// All yields the routes in insertion order.
func (r *Routes) All() iter.Seq2[string, strix.Node] {
	return func(yield func(string, strix.Node) bool) {
		for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Selector turns the node that just ended into a route key.
type Selector func(strix.Node) (string, bool)

func resultOf(n strix.Node) any {
	switch x := n.(type) {
	case *strix.Job:
		return x.Result()
	case *strix.Handler:
		return x.Result()
	default:
		return nil
	}
}

// ResultKey uses the result itself: a string as is, a fmt.Stringer through
// String, anything else through its default format. A nil result selects nothing.
func ResultKey(n strix.Node) (string, bool) {
	switch v := resultOf(n).(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// JSONPath reads the key from a JSON result with a gjson path. String, byte
// slice and json.RawMessage results are parsed as JSON; other results are
// marshalled first.
func JSONPath(path string) Selector {
	return func(n strix.Node) (string, bool) {
		var doc []byte
		switch v := resultOf(n).(type) {
		case nil:
			return "", false
		case string:
			doc = []byte(v)
		case []byte:
			doc = v
		case json.RawMessage:
			doc = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return "", false
			}
			doc = b
		}
		res := gjson.GetBytes(doc, path)
		if !res.Exists() {
			return "", false
		}
		return res.String(), true
	}
}
