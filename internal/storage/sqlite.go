package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		manufacturer TEXT,
		model TEXT,
		text TEXT NOT NULL,
		page_start INTEGER NOT NULL,
		page_end INTEGER NOT NULL,
		page_label_start TEXT,
		page_label_end TEXT,
		processing_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (processing_status IN ('pending','processing','completed','failed')),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_pages ON chunks(document_id, page_start, page_end);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		model_name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chunk_id) REFERENCES chunks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_name);

	CREATE TABLE IF NOT EXISTS document_products (
		document_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		extraction_method TEXT NOT NULL
			CHECK (extraction_method IN ('pattern','llm','vision','manual')),
		page_numbers TEXT,
		PRIMARY KEY (document_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS error_codes (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		manufacturer TEXT NOT NULL,
		code TEXT NOT NULL,
		description TEXT,
		page_number INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_error_codes_partition ON error_codes(manufacturer, code);

	CREATE TABLE IF NOT EXISTS error_code_evidence (
		occurrence_id TEXT PRIMARY KEY,
		chunk_id TEXT,
		image_id TEXT,
		extraction_method TEXT NOT NULL,
		FOREIGN KEY (occurrence_id) REFERENCES error_codes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		kind TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_images_page ON images(document_id, page_number);

	CREATE TABLE IF NOT EXISTS oem_relationships (
		brand_manufacturer TEXT NOT NULL,
		brand_series_pattern TEXT NOT NULL,
		oem_manufacturer TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		applies_to TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (brand_manufacturer, brand_series_pattern, oem_manufacturer)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateChunk inserts a chunk. An empty ID is assigned a new UUID; an empty
// status defaults to pending.
func (s *SQLiteStorage) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Status == "" {
		chunk.Status = models.StatusPending
	}
	chunk.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, manufacturer, model, text, page_start, page_end, page_label_start, page_label_end, processing_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Manufacturer, chunk.Model, chunk.Text, chunk.PageStart, chunk.PageEnd,
		chunk.PageLabelStart, chunk.PageLabelEnd, string(chunk.Status), chunk.CreatedAt,
	)
	return err
}

func scanChunk(scan func(dest ...any) error) (*models.Chunk, error) {
	var c models.Chunk
	var status string
	if err := scan(&c.ID, &c.DocumentID, &c.Manufacturer, &c.Model, &c.Text, &c.PageStart, &c.PageEnd,
		&c.PageLabelStart, &c.PageLabelEnd, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ProcessingStatus(status)
	return &c, nil
}

const chunkColumns = `id, document_id, COALESCE(manufacturer, ''), COALESCE(model, ''), text, page_start, page_end,
	COALESCE(page_label_start, ''), COALESCE(page_label_end, ''), processing_status, created_at`

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by page range.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY page_start, page_end, id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

// GetChunksCoveringPage returns chunks of a document whose page range contains
// page, ordered by tighter span first, then id. This is the candidate set for
// evidence linking.
func (s *SQLiteStorage) GetChunksCoveringPage(ctx context.Context, docID string, page int) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE document_id = ? AND page_start <= ? AND page_end >= ?
		 ORDER BY (page_end - page_start), id`,
		docID, page, page)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpdateChunkStatus applies a lifecycle transition. Illegal transitions return
// ErrInvalidTransition. The completed -> pending move (embedding invalidation)
// also deletes the chunk's embedding in the same transaction so a stale vector
// is never served under a new model's similarity semantics.
func (s *SQLiteStorage) UpdateChunkStatus(ctx context.Context, id string, next models.ProcessingStatus) error {
	if !next.Valid() {
		return fmt.Errorf("invalid status %q", next)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT processing_status FROM chunks WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	from := models.ProcessingStatus(current)
	if !from.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", from, next, ErrInvalidTransition)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chunks SET processing_status = ? WHERE id = ?`, string(next), id); err != nil {
		return err
	}
	if from == models.StatusCompleted && next == models.StatusPending {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertEmbedding inserts or replaces the single embedding for a chunk.
// Vectors are stored as little-endian float32 blobs.
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, emb *models.Embedding) error {
	if emb.ChunkID == "" {
		return fmt.Errorf("embedding chunk_id cannot be empty")
	}
	if len(emb.Vector) == 0 {
		return fmt.Errorf("embedding vector cannot be empty")
	}
	if emb.ModelName == "" {
		return fmt.Errorf("embedding model_name cannot be empty")
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (chunk_id, vector, model_name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			model_name = excluded.model_name,
			created_at = excluded.created_at`,
		emb.ChunkID, vector.Float32SliceToBytes(emb.Vector), emb.ModelName, emb.CreatedAt,
	)
	return err
}

// GetEmbedding returns the embedding for a chunk, or ErrNotFound. A completed
// chunk with no embedding is a representable state, not a storage error.
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, chunkID string) (*models.Embedding, error) {
	var emb models.Embedding
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT chunk_id, vector, model_name, created_at FROM embeddings WHERE chunk_id = ?`, chunkID,
	).Scan(&emb.ChunkID, &blob, &emb.ModelName, &emb.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("embedding for chunk %s: %w", chunkID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	emb.Vector = vector.BytesToFloat32Slice(blob)
	return &emb, nil
}

// ListEmbeddingsByModel returns all embeddings produced by the given model,
// used to rebuild the in-memory index at startup.
func (s *SQLiteStorage) ListEmbeddingsByModel(ctx context.Context, modelName string) ([]*models.Embedding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, vector, model_name, created_at FROM embeddings WHERE model_name = ? ORDER BY chunk_id`,
		modelName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Embedding
	for rows.Next() {
		var emb models.Embedding
		var blob []byte
		if err := rows.Scan(&emb.ChunkID, &blob, &emb.ModelName, &emb.CreatedAt); err != nil {
			return nil, err
		}
		emb.Vector = vector.BytesToFloat32Slice(blob)
		out = append(out, &emb)
	}
	return out, rows.Err()
}

// UpsertDocumentProduct inserts or updates a document-product association.
// A second call for the same pair overwrites is_primary, confidence, and
// extraction_method, but merges page_numbers as a set union: independent
// extraction passes may observe the product on different pages. The whole
// read-merge-write runs in one transaction; concurrent linkers on the same
// pair converge to a single row (last writer wins).
func (s *SQLiteStorage) UpsertDocumentProduct(ctx context.Context, link *models.DocumentProduct) error {
	if err := link.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingPages string
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(page_numbers, '') FROM document_products WHERE document_id = ? AND product_id = ?`,
		link.DocumentID, link.ProductID,
	).Scan(&existingPages)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	merged := link.PageNumbers
	if existingPages != "" {
		var prev []int
		if jsonErr := json.Unmarshal([]byte(existingPages), &prev); jsonErr == nil {
			merged = models.MergePages(prev, link.PageNumbers)
		}
	} else {
		merged = models.MergePages(nil, link.PageNumbers)
	}
	link.PageNumbers = merged
	pagesJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal page numbers: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_products (document_id, product_id, is_primary, confidence, extraction_method, page_numbers)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, product_id) DO UPDATE SET
			is_primary = excluded.is_primary,
			confidence = excluded.confidence,
			extraction_method = excluded.extraction_method,
			page_numbers = excluded.page_numbers`,
		link.DocumentID, link.ProductID, boolToInt(link.IsPrimary), float64(link.Confidence),
		string(link.ExtractionMethod), string(pagesJSON),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetProductsForDocument returns all product associations for a document,
// ordered is_primary desc, then confidence desc, then product id for a
// deterministic "best guess first" ordering.
func (s *SQLiteStorage) GetProductsForDocument(ctx context.Context, docID string) ([]*models.DocumentProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, product_id, is_primary, confidence, extraction_method, COALESCE(page_numbers, '')
		 FROM document_products WHERE document_id = ?
		 ORDER BY is_primary DESC, confidence DESC, product_id`,
		docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DocumentProduct
	for rows.Next() {
		var dp models.DocumentProduct
		var isPrimary int
		var conf float64
		var method, pagesJSON string
		if err := rows.Scan(&dp.DocumentID, &dp.ProductID, &isPrimary, &conf, &method, &pagesJSON); err != nil {
			return nil, err
		}
		dp.IsPrimary = isPrimary != 0
		dp.Confidence = models.Confidence(conf)
		dp.ExtractionMethod = models.ExtractionMethod(method)
		if pagesJSON != "" {
			_ = json.Unmarshal([]byte(pagesJSON), &dp.PageNumbers)
		}
		out = append(out, &dp)
	}
	return out, rows.Err()
}

// CreateErrorCode inserts an extracted error-code occurrence. An empty ID is
// assigned a new UUID.
func (s *SQLiteStorage) CreateErrorCode(ctx context.Context, ec *models.ErrorCode) error {
	if err := ec.Validate(); err != nil {
		return err
	}
	if ec.ID == "" {
		ec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_codes (id, document_id, manufacturer, code, description, page_number, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ec.ID, ec.DocumentID, ec.Manufacturer, ec.Code, ec.Description, ec.PageNumber, float64(ec.Confidence),
	)
	return err
}

// GetErrorCode returns an occurrence by ID.
func (s *SQLiteStorage) GetErrorCode(ctx context.Context, id string) (*models.ErrorCode, error) {
	var ec models.ErrorCode
	var conf float64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, manufacturer, code, COALESCE(description, ''), page_number, confidence
		 FROM error_codes WHERE id = ?`, id,
	).Scan(&ec.ID, &ec.DocumentID, &ec.Manufacturer, &ec.Code, &ec.Description, &ec.PageNumber, &conf)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("error code %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ec.Confidence = models.Confidence(conf)
	return &ec, nil
}

// ListErrorCodes returns occurrences in a manufacturer partition, optionally
// restricted to an exact code. Manufacturer matching is case-insensitive.
func (s *SQLiteStorage) ListErrorCodes(ctx context.Context, manufacturer, code string) ([]*models.ErrorCode, error) {
	query := `SELECT id, document_id, manufacturer, code, COALESCE(description, ''), page_number, confidence
		 FROM error_codes WHERE manufacturer = ? COLLATE NOCASE`
	args := []any{manufacturer}
	if code != "" {
		query += ` AND code = ?`
		args = append(args, code)
	}
	query += ` ORDER BY confidence DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ErrorCode
	for rows.Next() {
		var ec models.ErrorCode
		var conf float64
		if err := rows.Scan(&ec.ID, &ec.DocumentID, &ec.Manufacturer, &ec.Code, &ec.Description, &ec.PageNumber, &conf); err != nil {
			return nil, err
		}
		ec.Confidence = models.Confidence(conf)
		out = append(out, &ec)
	}
	return out, rows.Err()
}

// ListAllErrorCodes returns every occurrence across all partitions, in id
// order. Used to rebuild the description search index at startup.
func (s *SQLiteStorage) ListAllErrorCodes(ctx context.Context) ([]*models.ErrorCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, manufacturer, code, COALESCE(description, ''), page_number, confidence
		 FROM error_codes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ErrorCode
	for rows.Next() {
		var ec models.ErrorCode
		var conf float64
		if err := rows.Scan(&ec.ID, &ec.DocumentID, &ec.Manufacturer, &ec.Code, &ec.Description, &ec.PageNumber, &conf); err != nil {
			return nil, err
		}
		ec.Confidence = models.Confidence(conf)
		out = append(out, &ec)
	}
	return out, rows.Err()
}

// UpsertEvidence inserts or replaces the evidence row for an occurrence.
// Evidence is keyed by occurrence, so re-linking replaces the previous best
// match and never accumulates duplicates.
func (s *SQLiteStorage) UpsertEvidence(ctx context.Context, ev *models.Evidence) error {
	if ev.OccurrenceID == "" {
		return fmt.Errorf("evidence occurrence_id cannot be empty")
	}
	if !ev.ExtractionMethod.Valid() {
		return fmt.Errorf("invalid extraction_method %q", ev.ExtractionMethod)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_code_evidence (occurrence_id, chunk_id, image_id, extraction_method)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(occurrence_id) DO UPDATE SET
			chunk_id = excluded.chunk_id,
			image_id = excluded.image_id,
			extraction_method = excluded.extraction_method`,
		ev.OccurrenceID, nullable(ev.ChunkID), nullable(ev.ImageID), string(ev.ExtractionMethod),
	)
	return err
}

// GetEvidence returns the evidence row for an occurrence, or ErrNotFound when
// evidence linking has not run for it yet.
func (s *SQLiteStorage) GetEvidence(ctx context.Context, occurrenceID string) (*models.Evidence, error) {
	var ev models.Evidence
	var chunkID, imageID sql.NullString
	var method string
	err := s.db.QueryRowContext(ctx,
		`SELECT occurrence_id, chunk_id, image_id, extraction_method
		 FROM error_code_evidence WHERE occurrence_id = ?`, occurrenceID,
	).Scan(&ev.OccurrenceID, &chunkID, &imageID, &method)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evidence for occurrence %s: %w", occurrenceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ev.ChunkID = chunkID.String
	ev.ImageID = imageID.String
	ev.ExtractionMethod = models.ExtractionMethod(method)
	return &ev, nil
}

// CreateImage inserts an extracted image record.
func (s *SQLiteStorage) CreateImage(ctx context.Context, img *models.Image) error {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.DocumentID == "" {
		return fmt.Errorf("image document_id cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, document_id, page_number, kind) VALUES (?, ?, ?, ?)`,
		img.ID, img.DocumentID, img.PageNumber, string(img.Kind),
	)
	return err
}

// ListImagesForPage returns images on a document page restricted to the given
// kinds (empty = all kinds), ordered by id.
func (s *SQLiteStorage) ListImagesForPage(ctx context.Context, docID string, page int, kinds []models.ImageKind) ([]*models.Image, error) {
	query := `SELECT id, document_id, page_number, kind FROM images WHERE document_id = ? AND page_number = ?`
	args := []any{docID, page}
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Image
	for rows.Next() {
		var img models.Image
		var kind string
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.PageNumber, &kind); err != nil {
			return nil, err
		}
		img.Kind = models.ImageKind(kind)
		out = append(out, &img)
	}
	return out, rows.Err()
}

// ReplaceOEMRelationships replaces the curated reference set in one
// transaction. Rows failing validation are skipped by the caller before this
// point; the (brand, pattern, oem) primary key deduplicates bulk input.
func (s *SQLiteStorage) ReplaceOEMRelationships(ctx context.Context, rels []*models.OEMRelationship) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oem_relationships`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO oem_relationships
		 (brand_manufacturer, brand_series_pattern, oem_manufacturer, relationship_type, applies_to, confidence, verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rels {
		appliesJSON, err := json.Marshal(r.AppliesTo)
		if err != nil {
			return fmt.Errorf("failed to marshal applies_to: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.BrandManufacturer, r.BrandSeriesPattern, r.OEMManufacturer,
			string(r.RelationshipType), string(appliesJSON), float64(r.Confidence), boolToInt(r.Verified),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListOEMRelationships returns all curated OEM relationship rows.
func (s *SQLiteStorage) ListOEMRelationships(ctx context.Context) ([]*models.OEMRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT brand_manufacturer, brand_series_pattern, oem_manufacturer, relationship_type, applies_to, confidence, verified
		 FROM oem_relationships ORDER BY brand_manufacturer, brand_series_pattern, oem_manufacturer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.OEMRelationship
	for rows.Next() {
		var r models.OEMRelationship
		var relType, appliesJSON string
		var conf float64
		var verified int
		if err := rows.Scan(&r.BrandManufacturer, &r.BrandSeriesPattern, &r.OEMManufacturer,
			&relType, &appliesJSON, &conf, &verified); err != nil {
			return nil, err
		}
		r.RelationshipType = models.RelationshipType(relType)
		r.Confidence = models.Confidence(conf)
		r.Verified = verified != 0
		if appliesJSON != "" {
			_ = json.Unmarshal([]byte(appliesJSON), &r.AppliesTo)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// CountEmbeddings returns the total number of embeddings.
func (s *SQLiteStorage) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
