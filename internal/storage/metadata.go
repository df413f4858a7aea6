package storage

import (
	"encoding/json"
	"fmt"
)

// cardMetadataVersion is the current envelope schema version.
const cardMetadataVersion = 1

// cardMetadataEnvelope is the on-disk shape of the metadata column: a
// versioned wrapper around CardMetadata so the stored format can evolve
// without dual-attempt decoding.
type cardMetadataEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	Card          CardMetadata `json:"card"`
}

// legacyCardMetadata is the pre-envelope flat shape, with distractions
// stored as objects rather than strings.
type legacyCardMetadata struct {
	Distractions []struct {
		Title string `json:"title"`
	} `json:"distractions"`
	AppSites          map[string]int `json:"appSites"`
	IsBackupGenerated bool           `json:"isBackupGenerated"`
}

func encodeCardMetadata(m CardMetadata) (string, error) {
	b, err := json.Marshal(cardMetadataEnvelope{SchemaVersion: cardMetadataVersion, Card: m})
	if err != nil {
		return "", fmt.Errorf("failed to encode card metadata: %w", err)
	}
	return string(b), nil
}

// decodeCardMetadata decodes the metadata column. The envelope's
// schema_version discriminates the current shape from the legacy flat
// one, which goes through an explicit migration instead of guesswork.
func decodeCardMetadata(raw string) (CardMetadata, error) {
	if raw == "" {
		return CardMetadata{}, nil
	}

	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return CardMetadata{}, fmt.Errorf("failed to decode card metadata: %w", err)
	}

	switch probe.SchemaVersion {
	case cardMetadataVersion:
		var env cardMetadataEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return CardMetadata{}, fmt.Errorf("failed to decode card metadata envelope: %w", err)
		}
		return env.Card, nil
	case 0:
		return migrateLegacyMetadata(raw)
	default:
		return CardMetadata{}, fmt.Errorf("unknown card metadata schema version %d", probe.SchemaVersion)
	}
}

// migrateLegacyMetadata converts the pre-envelope flat shape.
func migrateLegacyMetadata(raw string) (CardMetadata, error) {
	var legacy legacyCardMetadata
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return CardMetadata{}, fmt.Errorf("failed to decode legacy card metadata: %w", err)
	}

	var m CardMetadata
	for _, d := range legacy.Distractions {
		if d.Title != "" {
			m.Distractions = append(m.Distractions, d.Title)
		}
	}
	for name, minutes := range legacy.AppSites {
		m.AppSites = append(m.AppSites, AppSite{Name: name, Minutes: minutes})
	}
	m.IsBackupGenerated = legacy.IsBackupGenerated
	return m, nil
}
