package assetstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const defaultMimeType = "application/octet-stream"

// Store is a chunked asset store backed by one metadata database and N
// sibling chunk databases.
type Store struct {
	metaPath   string
	chunkPaths []string
}

// New opens (creating if needed) the metadata database and every chunk
// database named in chunkPaths.
func New(metaPath string, chunkPaths []string) (*Store, error) {
	if len(chunkPaths) == 0 {
		return nil, fmt.Errorf("chunk_db_paths must not be empty")
	}

	metaDB, err := openMetadataDB(metaPath)
	if err != nil {
		return nil, err
	}
	defer metaDB.Close()

	for _, p := range chunkPaths {
		db, err := openChunkDB(p)
		if err != nil {
			return nil, err
		}
		db.Close()
	}

	return &Store{metaPath: metaPath, chunkPaths: chunkPaths}, nil
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func detectMimeType(data []byte) string {
	if mt := mimetype.Detect(data); mt != nil {
		return mt.String()
	}
	return defaultMimeType
}

func resolveMime(explicit string, data []byte) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return detectMimeType(data)
}

// partitionChunks splits data into chunkSize-byte pieces and assigns each
// round-robin across the store's chunk databases, chunk_index % N, exactly
// as the original insert_asset_from_bytes does.
func (s *Store) partitionChunks(data []byte, chunkSize int64) ([]ChunkRef, [][]chunkJob) {
	n := len(s.chunkPaths)
	jobsByDB := make([][]chunkJob, n)
	var refs []ChunkRef

	size := int64(len(data))
	chunkCount := expectedChunkCount(size, chunkSize)
	for i := int64(0); i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > size {
			end = size
		}
		dbIndex := int(i) % n
		jobsByDB[dbIndex] = append(jobsByDB[dbIndex], chunkJob{chunkIndex: i, data: data[start:end]})
		refs = append(refs, ChunkRef{DBIndex: int64(dbIndex), ChunkIndex: i})
	}
	return refs, jobsByDB
}

// insertChunks writes jobsByDB into their respective chunk databases, each
// under its own transaction, and returns the total rows inserted. On any
// per-database failure it returns immediately with the partial count;
// callers are expected to call cleanup on error.
func (s *Store) insertChunks(assetID string, jobsByDB [][]chunkJob) (int64, error) {
	var total int64
	for i, jobs := range jobsByDB {
		n, err := s.insertChunksIntoDB(s.chunkPaths[i], assetID, jobs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Store) insertChunksIntoDB(path, assetID string, jobs []chunkJob) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	db, err := openChunkDB(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin chunk transaction on %q: %w", path, err)
	}

	var count int64
	for _, job := range jobs {
		if _, err := tx.Exec(
			`INSERT INTO asset_chunks (asset_id, chunk_index, data) VALUES (?, ?, ?)`,
			assetID, job.chunkIndex, job.data,
		); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("insert chunk %d into %q: %w", job.chunkIndex, path, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("commit chunk transaction on %q: %w", path, err)
	}
	return count, nil
}

// cleanup is the best-effort rollback path: remove any chunk rows written
// for assetID across every chunk database. Failures are swallowed, matching
// the original's fire-and-forget cleanup_chunks.
func (s *Store) cleanup(assetID string) {
	var wg sync.WaitGroup
	for _, path := range s.chunkPaths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			db, err := openChunkDB(path)
			if err != nil {
				return
			}
			defer db.Close()
			db.Exec(`DELETE FROM asset_chunks WHERE asset_id = ?`, assetID)
		}(path)
	}
	wg.Wait()
}

// InsertBytes stores data as a new asset, chunked at chunkSize bytes, and
// returns its metadata. name and mimeType may be empty.
func (s *Store) InsertBytes(name, mimeType string, chunkSize int64, data []byte) (*Metadata, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be positive")
	}

	assetID := uuid.NewString()
	size := int64(len(data))
	checksum := checksumHex(data)
	resolvedMime := resolveMime(mimeType, data)

	refs, jobsByDB := s.partitionChunks(data, chunkSize)
	inserted, err := s.insertChunks(assetID, jobsByDB)
	if err != nil {
		s.cleanup(assetID)
		return nil, err
	}

	expected := expectedChunkCount(size, chunkSize)
	valid := inserted == expected

	meta := &Metadata{
		ID:        assetID,
		Size:      size,
		ChunkSize: chunkSize,
		Chunks:    refs,
		Valid:     valid,
	}
	if name != "" {
		meta.Name = &name
	}
	meta.MimeType = &resolvedMime
	meta.Checksum = &checksum

	if err := s.insertMetadata(meta); err != nil {
		s.cleanup(assetID)
		return nil, err
	}
	return meta, nil
}

// InsertFile reads filePath and stores it the same way InsertBytes does,
// additionally recording RawFilePath on the resulting metadata.
func (s *Store) InsertFile(name, mimeType string, chunkSize int64, filePath string) (*Metadata, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read asset source file %q: %w", filePath, err)
	}
	meta, err := s.InsertBytes(name, mimeType, chunkSize, data)
	if err != nil {
		return nil, err
	}
	meta.RawFilePath = &filePath
	if err := s.updateRawFilePath(meta.ID, filePath); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) insertMetadata(meta *Metadata) error {
	db, err := openMetadataDB(s.metaPath)
	if err != nil {
		return err
	}
	defer db.Close()

	chunksJSON, err := json.Marshal(meta.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunk refs: %w", err)
	}

	validInt := 0
	if meta.Valid {
		validInt = 1
	}

	_, err = db.Exec(
		`INSERT INTO assets (id, name, mime_type, size, chunk_size, chunks, checksum, raw_file_path, valid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.MimeType, meta.Size, meta.ChunkSize, string(chunksJSON), meta.Checksum, meta.RawFilePath, validInt,
	)
	if err != nil {
		return fmt.Errorf("insert asset metadata: %w", err)
	}
	return nil
}

func (s *Store) updateRawFilePath(assetID, filePath string) error {
	db, err := openMetadataDB(s.metaPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`UPDATE assets SET raw_file_path = ? WHERE id = ?`, filePath, assetID); err != nil {
		return fmt.Errorf("update raw_file_path: %w", err)
	}
	return nil
}

// GetMetadata fetches an asset's catalog entry by id.
func (s *Store) GetMetadata(assetID string) (*Metadata, error) {
	db, err := openMetadataDB(s.metaPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return s.getMetadataWith(db, assetID)
}

func (s *Store) getMetadataWith(db *sqlx.DB, assetID string) (*Metadata, error) {
	var row struct {
		ID          string         `db:"id"`
		Name        sql.NullString `db:"name"`
		MimeType    sql.NullString `db:"mime_type"`
		Size        int64          `db:"size"`
		ChunkSize   int64          `db:"chunk_size"`
		ChunksJSON  string         `db:"chunks"`
		Checksum    sql.NullString `db:"checksum"`
		RawFilePath sql.NullString `db:"raw_file_path"`
		Valid       bool           `db:"valid"`
		CreatedAt   int64          `db:"created_at"`
	}

	if err := db.Get(&row, `SELECT id, name, mime_type, size, chunk_size, chunks, checksum, raw_file_path, valid, created_at FROM assets WHERE id = ?`, assetID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("asset %q not found", assetID)
		}
		return nil, fmt.Errorf("load asset metadata %q: %w", assetID, err)
	}

	var chunks []ChunkRef
	if err := json.Unmarshal([]byte(row.ChunksJSON), &chunks); err != nil {
		return nil, fmt.Errorf("decode chunk refs for asset %q: %w", assetID, err)
	}

	meta := &Metadata{
		ID:        row.ID,
		Size:      row.Size,
		ChunkSize: row.ChunkSize,
		Chunks:    chunks,
		Valid:     row.Valid,
		CreatedAt: row.CreatedAt,
	}
	if row.Name.Valid {
		meta.Name = &row.Name.String
	}
	if row.MimeType.Valid {
		meta.MimeType = &row.MimeType.String
	}
	if row.Checksum.Valid {
		meta.Checksum = &row.Checksum.String
	}
	if row.RawFilePath.Valid {
		meta.RawFilePath = &row.RawFilePath.String
	}
	return meta, nil
}

// ReadBytes reassembles and returns an asset's full contents, validating
// the chunk-ref layout against the expected chunk count and the
// reassembled bytes against the stored checksum.
func (s *Store) ReadBytes(assetID string) ([]byte, error) {
	meta, err := s.GetMetadata(assetID)
	if err != nil {
		return nil, err
	}

	expected, err := s.ensureChunkRefsValid(meta)
	if err != nil {
		return nil, err
	}

	indicesByDB := make([][]int64, len(s.chunkPaths))
	for _, ref := range meta.Chunks {
		indicesByDB[ref.DBIndex] = append(indicesByDB[ref.DBIndex], ref.ChunkIndex)
	}

	chunkMap := make(map[int64][]byte, expected)
	for dbIndex, indices := range indicesByDB {
		rows, err := s.readChunksForDB(s.chunkPaths[dbIndex], assetID, indices)
		if err != nil {
			return nil, err
		}
		for idx, data := range rows {
			chunkMap[idx] = data
		}
	}

	if int64(len(chunkMap)) != expected {
		return nil, fmt.Errorf("missing chunk data for asset %q", assetID)
	}

	combined := make([]byte, 0, meta.Size)
	for i := int64(0); i < expected; i++ {
		data, ok := chunkMap[i]
		if !ok {
			return nil, fmt.Errorf("chunk data missing at index %d for asset %q", i, assetID)
		}
		combined = append(combined, data...)
	}

	if int64(len(combined)) != meta.Size {
		return nil, fmt.Errorf("combined size mismatch for asset %q: expected %d, got %d", assetID, meta.Size, len(combined))
	}

	if meta.Checksum != nil {
		actual := checksumHex(combined)
		if !strings.EqualFold(actual, *meta.Checksum) {
			return nil, fmt.Errorf("checksum mismatch for asset %q", assetID)
		}
	}

	return combined, nil
}

// ensureChunkRefsValid checks that meta.Chunks is exactly the contiguous
// 0..expected sequence with no duplicates and every db_index in range,
// mirroring ensure_chunk_refs_valid.
func (s *Store) ensureChunkRefsValid(meta *Metadata) (int64, error) {
	expected := expectedChunkCount(meta.Size, meta.ChunkSize)
	if int64(len(meta.Chunks)) != expected {
		return 0, fmt.Errorf("chunk refs count mismatch for asset %q: expected %d, got %d", meta.ID, expected, len(meta.Chunks))
	}

	seen := make(map[int64]bool, len(meta.Chunks))
	for _, ref := range meta.Chunks {
		if seen[ref.ChunkIndex] {
			return 0, fmt.Errorf("duplicate chunk_index %d in refs for asset %q", ref.ChunkIndex, meta.ID)
		}
		seen[ref.ChunkIndex] = true
		if ref.DBIndex < 0 || int(ref.DBIndex) >= len(s.chunkPaths) {
			return 0, fmt.Errorf("chunk db_index %d out of range for asset %q", ref.DBIndex, meta.ID)
		}
	}
	for i := int64(0); i < expected; i++ {
		if !seen[i] {
			return 0, fmt.Errorf("chunk_index sequence mismatch for asset %q: missing %d", meta.ID, i)
		}
	}
	return expected, nil
}

func (s *Store) readChunksForDB(path, assetID string, indices []int64) (map[int64][]byte, error) {
	out := make(map[int64][]byte, len(indices))
	if len(indices) == 0 {
		return out, nil
	}

	db, err := openChunkDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(indices)), ",")
	args := make([]any, 0, len(indices)+1)
	args = append(args, assetID)
	for _, idx := range indices {
		args = append(args, idx)
	}

	query := fmt.Sprintf(`SELECT chunk_index, data FROM asset_chunks WHERE asset_id = ? AND chunk_index IN (%s)`, placeholders)
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks from %q: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int64
		var data []byte
		if err := rows.Scan(&idx, &data); err != nil {
			return nil, fmt.Errorf("scan chunk row from %q: %w", path, err)
		}
		out[idx] = data
	}
	return out, rows.Err()
}

// deleteMetadataOnly removes an asset's metadata row without touching its
// chunk rows, producing the orphaned-chunk state SweepOrphanChunks reclaims.
func (s *Store) deleteMetadataOnly(assetID string) error {
	db, err := openMetadataDB(s.metaPath)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(`DELETE FROM assets WHERE id = ?`, assetID)
	return err
}

// Delete removes an asset's metadata row and every chunk row across all
// chunk databases. Best effort on the chunk side, matching cleanup.
func (s *Store) Delete(assetID string) error {
	db, err := openMetadataDB(s.metaPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`DELETE FROM assets WHERE id = ?`, assetID); err != nil {
		return fmt.Errorf("delete asset metadata %q: %w", assetID, err)
	}
	s.cleanup(assetID)
	return nil
}
