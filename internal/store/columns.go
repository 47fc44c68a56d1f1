// Package store holds the column encodings shared by the sqlite and postgres
// repositories.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"zchat_go/internal/domain"
)

// EncodeAttachments serializes attachments for the attachments column.
func EncodeAttachments(atts []domain.Attachment) (string, error) {
	if len(atts) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(b), nil
}

// DecodeAttachments parses the attachments column.
func DecodeAttachments(s string) ([]domain.Attachment, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var atts []domain.Attachment
	if err := json.Unmarshal([]byte(s), &atts); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return atts, nil
}

// MediaKinds renders the kinds present in atts as ",file,image," so a kind
// can be matched with LIKE '%,image,%'.
func MediaKinds(atts []domain.Attachment) string {
	seen := map[domain.MediaKind]struct{}{}
	for _, a := range atts {
		seen[a.Kind()] = struct{}{}
	}
	if len(seen) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return "," + strings.Join(kinds, ",") + ","
}

// KindPattern is the LIKE pattern matching kind in a MediaKinds column.
func KindPattern(kind domain.MediaKind) string {
	return "%," + string(kind) + ",%"
}
