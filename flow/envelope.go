package flow

import (
	"encoding/json"
	"fmt"
	"path"
	"reflect"
)

// Envelope is a typed message traveling between nodes in a workflow graph.
//
// Kind identifies the concrete payload type; it is the key used by the
// tagged-variant dispatch tables that route messages at run time, and by the
// checkpoint codec to reconstruct payloads after a restart. Kinds are derived
// from the executors' declared Go types once at workflow build time.
type Envelope struct {
	// Kind names the payload variant, e.g. "trip.TripOptions".
	Kind string

	// Payload holds the payload value. Its dynamic type must correspond to
	// Kind; envelopes are only constructed by the engine or by
	// ExternalRequest.CreateResponse, both of which enforce this.
	Payload any
}

// kindFor derives the payload kind for a Go type. Pointer types are
// dereferenced so *T and T share a kind. Only named (defined) types are
// usable as payloads: the kind must round-trip through a checkpoint, and an
// anonymous type has no stable name.
func kindFor(t reflect.Type) (string, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "", fmt.Errorf("payload type %s is not a named type", t)
	}
	if t.PkgPath() == "" {
		// Predeclared types (string, int, ...) keep their bare name.
		return t.Name(), nil
	}
	return path.Base(t.PkgPath()) + "." + t.Name(), nil
}

// kindOf derives the payload kind for a value's dynamic type.
func kindOf(v any) (string, error) {
	if v == nil {
		return "", fmt.Errorf("payload must not be nil")
	}
	return kindFor(reflect.TypeOf(v))
}

// kindTable maps payload kinds to their Go types. It is assembled during
// Build from every route and port declaration, and is the only place the
// engine touches reflection after construction.
type kindTable map[string]reflect.Type

// add registers a type, rejecting two distinct types that map to the same
// kind (for example, same-named types from two packages with the same base
// import path).
func (kt kindTable) add(t reflect.Type) (string, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	kind, err := kindFor(t)
	if err != nil {
		return "", err
	}
	if prev, ok := kt[kind]; ok && prev != t {
		return "", fmt.Errorf("payload kind %s is claimed by both %s and %s", kind, prev, t)
	}
	kt[kind] = t
	return kind, nil
}

// decode reconstructs a payload value of the named kind from its JSON form.
// Used when restoring checkpointed mailboxes and pending requests.
func (kt kindTable) decode(kind string, raw json.RawMessage) (any, error) {
	t, ok := kt[kind]
	if !ok {
		return nil, fmt.Errorf("unknown payload kind %s", kind)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode payload kind %s: %w", kind, err)
	}
	return ptr.Elem().Interface(), nil
}
