package metadata

import (
	"encoding/json"
	"log/slog"

	"github.com/leapstack-labs/metalineage/pkg/urn"
)

// Group decodes rows into a RowDict. Rows with unparseable ids, container or tag
// ids, or malformed JSON are dropped. Assertion rows are kept so the assertion
// stage can read them; callers must not create assets for them.
func Group(rows []Row, logger *slog.Logger) RowDict {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dict := make(RowDict)
	for _, row := range rows {
		u, err := urn.Parse(row.URN)
		if err != nil {
			logger.Debug("skipping unparseable urn", "urn", row.URN, "error", err)
			continue
		}
		if u.Excluded() && u.Kind() != urn.KindAssertion {
			continue
		}

		var payload Payload
		if err := json.Unmarshal([]byte(row.Metadata), &payload); err != nil {
			logger.Warn("skipping malformed aspect payload", "urn", row.URN, "aspect", row.Aspect, "error", err)
			continue
		}
		if payload == nil {
			payload = Payload{}
		}
		dict.add(u.String(), row.Aspect, payload)
	}
	return dict
}

// Stubbable reports whether id may become an asset stub.
func Stubbable(id string) bool {
	u, err := urn.Parse(id)
	if err != nil {
		return false
	}
	switch u.Kind() {
	case urn.KindSchemaField, urn.KindDataPlatform, urn.KindCorpUser, urn.KindCorpGroup:
		return false
	}
	return !u.Excluded()
}
