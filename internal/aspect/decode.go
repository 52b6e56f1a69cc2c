package aspect

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/metalineage/internal/metadata"
)

// decode copies a payload into a typed aspect struct. Weak typing lets
// string flags such as "False" land in bool fields.
func decode(p metadata.Payload, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("decode aspect: %w", err)
	}
	return nil
}

// decodeAll decodes every payload, logging and skipping the ones that do not fit.
func decodeAll[T any](st *State, id, aspect string) []T {
	var out []T
	for _, p := range st.Rows.Get(id, aspect) {
		var v T
		if err := decode(p, &v); err != nil {
			st.Logger.Warn("skipping undecodable aspect", "urn", id, "aspect", aspect, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// asList normalizes a value that may be either a single item or a list of items.
func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

// urnOf extracts an urn from the shapes aspects use to reference entities:
// a bare string, a union wrapper {"string": ...}, or an edge object.
func urnOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		for _, key := range []string{"destinationUrn", "dataset", "string", "urn"} {
			if s, ok := x[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func urnsOf(values ...any) []string {
	var out []string
	for _, v := range values {
		for _, item := range asList(v) {
			if u := urnOf(item); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
