package attrs

import (
	"log/slog"
)

// FilterResult splits a proposed update into what must be sent and what was
// dropped.
type FilterResult struct {
	Changed  []Attribute
	NoOp     []string
	Reserved []string
	Invalid  []string
}

// Empty reports whether nothing needs to reach the backend.
func (r FilterResult) Empty() bool { return len(r.Changed) == 0 }

// Filter diffs proposed against cached. Unchanged values, reserved keys and
// invalid entries are dropped; reserved and invalid drops are logged at warn.
// A key proposed more than once keeps its first position and its last value.
func Filter(log *slog.Logger, cached Set, proposed []Attribute) FilterResult {
	var res FilterResult
	order := make([]string, 0, len(proposed))
	latest := make(map[string]Value, len(proposed))
	for _, a := range proposed {
		key := normalizeKey(a.Key)
		switch {
		case key == "" || !a.Value.IsValid():
			res.Invalid = append(res.Invalid, key)
			continue
		case IsReserved(key):
			res.Reserved = append(res.Reserved, key)
			continue
		}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = a.Value
	}
	for _, key := range order {
		value := latest[key]
		if current, ok := cached[key]; ok && current.Equal(value) {
			res.NoOp = append(res.NoOp, key)
			continue
		}
		res.Changed = append(res.Changed, Attribute{Key: key, Value: value})
	}
	if log != nil {
		for _, key := range res.Reserved {
			log.Warn("attribute update touches reserved key; dropped", slog.String("key", key))
		}
		for _, key := range res.Invalid {
			log.Warn("attribute update has empty key or invalid value; dropped", slog.String("key", key))
		}
	}
	return res
}
