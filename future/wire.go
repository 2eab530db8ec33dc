package future

import (
	jsoniter "github.com/json-iterator/go"
)

// json is the codec used for every Wire payload in the module. We standardize
// on json-iterator's "compatible" configuration (its fastest mode can reorder
// map keys in ways that make golden-file tests annoying); see
// botobag-artemis, which depends on the same library for its own wire
// encoding.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Wire is the portable subset of a Future that travels across the network:
// id, parent_id, callable, args, kwargs, result, exception. Continuation,
// callbacks and timing metadata are worker-local and never serialize
// (spec.md §4.2).
type Wire struct {
	ID        ID             `json:"id"`
	ParentID  ID             `json:"parent_id"`
	Callable  string         `json:"callable"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Result    any            `json:"result,omitempty"`
	Exception *Failure       `json:"exception,omitempty"`
}

// ToWire extracts the serializable subset of f. It may be called at any
// point in f's lifecycle; Result/Exception are populated only once terminal.
func (f *Future) ToWire() Wire {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Wire{
		ID:        f.ID,
		ParentID:  f.ParentID,
		Callable:  f.Callable,
		Args:      f.Args,
		Kwargs:    f.Kwargs,
		Result:    f.result,
		Exception: f.exception,
	}
}

// FromWire reconstructs a Future from its wire form. The reconstructed
// Future starts in Created state unless w carries a terminal outcome, in
// which case it is rehydrated directly into Done/Failed — this is how a
// REPLY's serialized Future becomes usable on the receiving (parent-owning)
// worker without re-running MarkRunning.
func FromWire(w Wire) *Future {
	f := New(w.ID, w.ParentID, w.Callable, w.Args, w.Kwargs)
	switch {
	case w.Exception != nil:
		f.state = Failed
		f.exception = w.Exception
	case w.Result != nil:
		f.state = Done
		f.result = w.Result
	}
	return f
}

// Marshal encodes f's wire subset to JSON.
func (f *Future) Marshal() ([]byte, error) {
	return json.Marshal(f.ToWire())
}

// Unmarshal decodes JSON into a new Future via FromWire.
func Unmarshal(data []byte) (*Future, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return FromWire(w), nil
}
