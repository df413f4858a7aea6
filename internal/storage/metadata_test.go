package storage

import (
	"sort"
	"strings"
	"testing"
)

func TestCardMetadata_RoundTrip(t *testing.T) {
	meta := CardMetadata{
		Distractions:      []string{"social media", "news"},
		AppSites:          []AppSite{{Name: "github.com", Minutes: 30}, {Name: "editor"}},
		IsBackupGenerated: true,
	}

	encoded, err := encodeCardMetadata(meta)
	if err != nil {
		t.Fatalf("encodeCardMetadata() error = %v", err)
	}
	if !strings.Contains(encoded, `"schema_version":1`) {
		t.Errorf("encoded metadata missing version envelope: %s", encoded)
	}

	decoded, err := decodeCardMetadata(encoded)
	if err != nil {
		t.Fatalf("decodeCardMetadata() error = %v", err)
	}
	if len(decoded.Distractions) != 2 || decoded.Distractions[0] != "social media" {
		t.Errorf("Distractions = %v, want round trip", decoded.Distractions)
	}
	if len(decoded.AppSites) != 2 || decoded.AppSites[0].Minutes != 30 {
		t.Errorf("AppSites = %v, want round trip", decoded.AppSites)
	}
	if !decoded.IsBackupGenerated {
		t.Error("IsBackupGenerated lost in round trip")
	}
}

func TestDecodeCardMetadata_Empty(t *testing.T) {
	meta, err := decodeCardMetadata("")
	if err != nil {
		t.Fatalf("decodeCardMetadata(\"\") error = %v", err)
	}
	if len(meta.Distractions) != 0 || len(meta.AppSites) != 0 || meta.IsBackupGenerated {
		t.Errorf("decodeCardMetadata(\"\") = %+v, want zero value", meta)
	}
}

func TestDecodeCardMetadata_LegacyShape(t *testing.T) {
	// The pre-envelope flat format: distractions as objects, app sites
	// as a name-to-minutes map.
	raw := `{
		"distractions": [{"title": "twitter"}, {"title": ""}],
		"appSites": {"github.com": 25, "docs.site": 5},
		"isBackupGenerated": true
	}`

	meta, err := decodeCardMetadata(raw)
	if err != nil {
		t.Fatalf("decodeCardMetadata() error = %v", err)
	}

	if len(meta.Distractions) != 1 || meta.Distractions[0] != "twitter" {
		t.Errorf("Distractions = %v, want empty titles dropped", meta.Distractions)
	}
	if !meta.IsBackupGenerated {
		t.Error("IsBackupGenerated = false, want true")
	}

	if len(meta.AppSites) != 2 {
		t.Fatalf("AppSites count = %d, want 2", len(meta.AppSites))
	}
	sort.Slice(meta.AppSites, func(i, j int) bool { return meta.AppSites[i].Name < meta.AppSites[j].Name })
	if meta.AppSites[1].Name != "github.com" || meta.AppSites[1].Minutes != 25 {
		t.Errorf("AppSites = %v, want github.com with 25 minutes", meta.AppSites)
	}
}

func TestDecodeCardMetadata_Errors(t *testing.T) {
	if _, err := decodeCardMetadata("{broken"); err == nil {
		t.Error("decodeCardMetadata() expected error for malformed JSON")
	}
	if _, err := decodeCardMetadata(`{"schema_version": 99}`); err == nil {
		t.Error("decodeCardMetadata() expected error for unknown version")
	}
}
