package generated

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// FileRecord — схема FileRecord.
type FileRecord struct {
	FileId           openapi_types.UUID `json:"file_id"`
	OriginalFilename string             `json:"original_filename"`
	BlobReference    string             `json:"blob_reference"`
	LocationHint     string             `json:"location_hint,omitempty"`
	ContentType      string             `json:"content_type"`
	Size             int64              `json:"size"`
	Description      *string            `json:"description"`
	OwnerId          string             `json:"owner_id"`
	Owner            string             `json:"owner"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Peer — схема Peer.
type Peer struct {
	PeerId    string `json:"peer_id"`
	ChannelId string `json:"channel_id"`
}

// PeerList — схема PeerList.
type PeerList struct {
	Peers []Peer `json:"peers"`
	Total int    `json:"total"`
}
