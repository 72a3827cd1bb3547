package assetstore

import "fmt"

// SweepOrphanChunks deletes chunk rows whose asset_id no longer has a
// corresponding metadata row, reclaiming space left behind by an insert
// that failed after writing some chunks but before (or instead of)
// completing its metadata row. Returns the total rows removed across all
// chunk databases.
func (s *Store) SweepOrphanChunks() (int64, error) {
	metaDB, err := openMetadataDB(s.metaPath)
	if err != nil {
		return 0, err
	}
	defer metaDB.Close()

	var liveIDs []string
	if err := metaDB.Select(&liveIDs, `SELECT id FROM assets`); err != nil {
		return 0, fmt.Errorf("list live asset ids: %w", err)
	}

	var total int64
	for _, path := range s.chunkPaths {
		n, err := sweepOrphanChunksInDB(path, liveIDs)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sweepOrphanChunksInDB(path string, liveIDs []string) (int64, error) {
	db, err := openChunkDB(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var distinctIDs []string
	if err := db.Select(&distinctIDs, `SELECT DISTINCT asset_id FROM asset_chunks`); err != nil {
		return 0, fmt.Errorf("list chunk asset ids in %q: %w", path, err)
	}

	live := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = true
	}

	var total int64
	for _, assetID := range distinctIDs {
		if live[assetID] {
			continue
		}
		res, err := db.Exec(`DELETE FROM asset_chunks WHERE asset_id = ?`, assetID)
		if err != nil {
			return total, fmt.Errorf("delete orphan chunks for %q in %q: %w", assetID, path, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
