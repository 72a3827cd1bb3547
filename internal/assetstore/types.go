// Package assetstore implements a chunked asset store: asset bytes are
// split into fixed-size chunks and distributed round-robin
// across N sibling SQLite chunk databases, with a single metadata database
// recording the chunk layout, checksum, and validity for each asset.
package assetstore

// ChunkRef locates one chunk of an asset: which sibling chunk database
// holds it (DBIndex) and its position within the asset (ChunkIndex).
type ChunkRef struct {
	DBIndex    int64 `db:"db_index" json:"db_index"`
	ChunkIndex int64 `db:"chunk_index" json:"chunk_index"`
}

// Metadata is one asset's catalog entry, stored in the metadata database.
type Metadata struct {
	ID          string     `db:"id" json:"id"`
	Name        *string    `db:"name" json:"name,omitempty"`
	MimeType    *string    `db:"mime_type" json:"mime_type,omitempty"`
	Size        int64      `db:"size" json:"size"`
	ChunkSize   int64      `db:"chunk_size" json:"chunk_size"`
	Chunks      []ChunkRef `db:"-" json:"chunks"`
	ChunksJSON  string     `db:"chunks" json:"-"`
	Checksum    *string    `db:"checksum" json:"checksum,omitempty"`
	RawFilePath *string    `db:"raw_file_path" json:"raw_file_path,omitempty"`
	Valid       bool       `db:"valid" json:"valid"`
	CreatedAt   int64      `db:"created_at" json:"created_at"`
}

// chunkJob is one chunk awaiting insertion into its target database.
type chunkJob struct {
	chunkIndex int64
	data       []byte
}
