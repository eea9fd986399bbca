package querycache

import (
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/querycache/internal/util"
)

// Key identifies a query: a name such as "list-items" plus optional
// parameters, e.g. NewKey("book", bookID) or NewKey("bookSearch", query).
// Keys built from equal parameters are equal, however the parameters were
// assembled (map parameters are canonicalised by key order).
//
// Names must not contain '#'; it separates the name from the parameter hash.
type Key struct {
	name   string
	params string
}

func NewKey(name string, params ...any) Key {
	k := Key{name: name}
	if len(params) == 0 {
		return k
	}
	b, err := json.Marshal(params)
	if err != nil {
		// unmarshalable params (funcs, chans) still need a stable identity
		b = []byte(fmt.Sprintf("%#v", params))
	}
	k.params = string(b)
	return k
}

func (k Key) Name() string { return k.name }

// Params returns the canonical JSON of the parameters, "" when there are none.
func (k Key) Params() string { return k.params }

func (k Key) IsZero() bool { return k.name == "" && k.params == "" }

func (k Key) String() string {
	if k.params == "" {
		return k.name
	}
	return k.name + "#" + util.ShortHash(k.params)
}
