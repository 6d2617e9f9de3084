package entity

type Attribute struct {
	Key   string
	Value string
}

// Attributes is a string key/value bag that remembers insertion order, so
// attribute rows come out in the order the builder set them.
type Attributes struct {
	keys   []string
	values map[string]string
}

// NewAttributes builds an Attributes from alternating key/value pairs. A
// trailing key without a value is ignored.
func NewAttributes(kv ...string) Attributes {
	var a Attributes
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(kv[i], kv[i+1])
	}
	return a
}

// Set stores value under key. Re-setting a key keeps its original position.
func (a *Attributes) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

func (a Attributes) Get(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

func (a Attributes) Len() int {
	return len(a.keys)
}

func (a Attributes) All() []Attribute {
	out := make([]Attribute, 0, len(a.keys))
	for _, k := range a.keys {
		out = append(out, Attribute{Key: k, Value: a.values[k]})
	}
	return out
}
