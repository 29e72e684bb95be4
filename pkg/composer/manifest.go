package composer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest is a composer.json object that keeps its keys in document order.
//
// Values are held as raw JSON so fields the bridge does not know about pass
// through untouched. Marshaling writes the keys back in their original order.
type Manifest struct {
	keys   []string
	values map[string]json.RawMessage
}

// ParseManifest decodes data, which must be a JSON object.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the manifest's "name" field, and false if it is absent or not a string.
func (m *Manifest) Name() (string, bool) {
	raw, ok := m.Get("name")
	if !ok {
		return "", false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false
	}
	return name, true
}

// MatchesPath reports whether the manifest name equals path, ignoring case.
func (m *Manifest) MatchesPath(path string) bool {
	name, ok := m.Name()
	return ok && strings.EqualFold(name, path)
}

// Get returns the raw value of key.
func (m *Manifest) Get(key string) (json.RawMessage, bool) {
	if m == nil || m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in document order.
func (m *Manifest) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Set marshals v and stores it under key. An existing key keeps its
// position; a new key is appended.
func (m *Manifest) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	m.setRaw(key, raw)
	return nil
}

func (m *Manifest) setRaw(key string, raw json.RawMessage) {
	if m.values == nil {
		m.values = make(map[string]json.RawMessage)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = raw
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string]json.RawMessage, len(m.values)),
	}
	for k, v := range m.values {
		c.values[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// MarshalJSON writes the object with keys in order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(m.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, recording key order. A repeated key
// keeps its first position and its last value.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("composer manifest: expected object, got %v", tok)
	}

	m.keys = nil
	m.values = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("composer manifest: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		m.setRaw(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
