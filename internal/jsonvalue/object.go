package jsonvalue

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is a JSON object that remembers insertion order.
type Object struct {
	members []Member
	index   map[string]int
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set stores v under key. An existing key keeps its position. The zero
// Object is ready to use.
func (o *Object) Set(key string, v Value) *Object {
	if o.index == nil {
		o.index = make(map[string]int, len(o.members))
	}

	if i, ok := o.index[key]; ok {
		o.members[i].Value = v
		return o
	}

	o.index[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})

	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}

	i, ok := o.index[key]
	if !ok {
		return Value{}, false
	}

	return o.members[i].Value, true
}

// Delete removes key, preserving the order of the remaining members.
func (o *Object) Delete(key string) {
	i, ok := o.index[key]
	if !ok {
		return
	}

	o.members = append(o.members[:i], o.members[i+1:]...)
	delete(o.index, key)

	for j := i; j < len(o.members); j++ {
		o.index[o.members[j].Key] = j
	}
}

// Len returns the number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}

	return len(o.members)
}

// Keys returns member keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}

	keys := make([]string, len(o.members))
	for i, m := range o.members {
		keys[i] = m.Key
	}

	return keys
}

// Members returns the members in insertion order. The slice must not be
// modified.
func (o *Object) Members() []Member {
	if o == nil {
		return nil
	}

	return o.members
}

func (o *Object) equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}

	for i, m := range o.Members() {
		om := other.members[i]
		if m.Key != om.Key || !Equal(m.Value, om.Value) {
			return false
		}
	}

	return true
}
