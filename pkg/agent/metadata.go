package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultUserName is used when job metadata carries no name.
const DefaultUserName = "there"

// JobMetadata is the JSON document attached to a dispatched job. Every field
// is optional.
type JobMetadata struct {
	ID          string          `json:"id,omitempty"`
	ContentID   string          `json:"contentId,omitempty"`
	Name        string          `json:"name,omitempty"`
	URL         string          `json:"url,omitempty"`
	ContentName string          `json:"contentName,omitempty"`
	Price       string          `json:"price,omitempty"`
	Description string          `json:"description,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
	UserInfo    json.RawMessage `json:"userInfo,omitempty"`
	SessionData json.RawMessage `json:"sessionData,omitempty"`
}

// ParseJobMetadata decodes raw metadata. Empty input yields defaults.
func ParseJobMetadata(raw []byte) (JobMetadata, error) {
	var md JobMetadata
	if len(strings.TrimSpace(string(raw))) == 0 {
		return md.withDefaults(), nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return JobMetadata{}, fmt.Errorf("decode job metadata: %w", err)
	}
	return md.withDefaults(), nil
}

func (m JobMetadata) withDefaults() JobMetadata {
	m.ID = strings.TrimSpace(m.ID)
	m.ContentID = strings.TrimSpace(m.ContentID)
	m.URL = strings.TrimSpace(m.URL)
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = DefaultUserName
	}
	return m
}
