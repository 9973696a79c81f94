package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/dbx"
	"github.com/heirkeep/vault/internal/vault/models"
)

// Postgres error codes used to translate constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.VaultFile) error {
	query := `
		INSERT INTO vault_files (
			file_id, owner_user_id, template_id, creation_mode,
			encrypted_dek, encrypted_form_data, nonce_form_data,
			has_source_file, source_file_s3_key, source_file_nonce,
			source_file_original_name, source_file_mime_type, source_file_size_bytes,
			status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`
	_, err := r.db.ExecContext(ctx, query,
		f.FileID, f.OwnerUserID, f.TemplateID, string(f.CreationMode),
		f.EncryptedDEK, f.EncryptedFormData, f.NonceFormData,
		f.HasSourceFile, nullStr(f.SourceFileS3Key), nullStr(f.SourceFileNonce),
		nullStr(f.SourceFileOriginalName), nullStr(f.SourceFileMimeType), nullInt(f.SourceFileSizeBytes),
		string(models.FileStatusActive))
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: file %s", common.ErrDuplicateFile, f.FileID)
		}
		return fmt.Errorf("%w: create file %s: %v", common.ErrDatabaseWrite, f.FileID, err)
	}
	return nil
}

const vaultFileColumns = `file_id, owner_user_id, template_id, creation_mode,
		encrypted_dek, encrypted_form_data, nonce_form_data,
		has_source_file, source_file_s3_key, source_file_nonce,
		source_file_original_name, source_file_mime_type, source_file_size_bytes,
		status, created_at, updated_at`

func scanVaultFile(row interface{ Scan(...any) error }) (*models.VaultFile, error) {
	var (
		f            models.VaultFile
		mode, status string
		s3Key, nonce sql.NullString
		name, mime   sql.NullString
		size         sql.NullInt64
	)
	err := row.Scan(
		&f.FileID, &f.OwnerUserID, &f.TemplateID, &mode,
		&f.EncryptedDEK, &f.EncryptedFormData, &f.NonceFormData,
		&f.HasSourceFile, &s3Key, &nonce,
		&name, &mime, &size,
		&status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.CreationMode = models.CreationMode(mode)
	f.Status = models.FileStatus(status)
	f.SourceFileS3Key = s3Key.String
	f.SourceFileNonce = nonce.String
	f.SourceFileOriginalName = name.String
	f.SourceFileMimeType = mime.String
	f.SourceFileSizeBytes = size.Int64
	return &f, nil
}

func (r *PostgresRepository) Get(ctx context.Context, fileID string) (*models.VaultFile, error) {
	query := `SELECT ` + vaultFileColumns + ` FROM vault_files WHERE file_id=$1`

	f, err := scanVaultFile(r.db.QueryRowContext(ctx, query, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get file %s: %v", common.ErrDatabaseRead, fileID, err)
	}
	return f, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID, templateID string, status models.FileStatus) ([]*models.VaultFile, error) {
	query := `SELECT ` + vaultFileColumns + ` FROM vault_files
		WHERE owner_user_id=$1 AND status=$2 AND ($3 = '' OR template_id=$3)
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID, string(status), templateID)
	if err != nil {
		return nil, fmt.Errorf("%w: list files for %s: %v", common.ErrDatabaseRead, ownerID, err)
	}
	defer rows.Close()

	return collectVaultFiles(rows, ownerID)
}

func (r *PostgresRepository) ListSharedWith(ctx context.Context, userID string) ([]*models.VaultFile, error) {
	query := `SELECT ` + prefixColumns("f.", vaultFileColumns) + ` FROM vault_files f
		JOIN vault_file_access a ON a.file_id = f.file_id
		WHERE a.recipient_user_id=$1 AND a.status=$2
		ORDER BY f.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, string(models.AccessStatusActive))
	if err != nil {
		return nil, fmt.Errorf("%w: list shared files for %s: %v", common.ErrDatabaseRead, userID, err)
	}
	defer rows.Close()

	return collectVaultFiles(rows, userID)
}

func collectVaultFiles(rows *sql.Rows, subject string) ([]*models.VaultFile, error) {
	var result []*models.VaultFile
	for rows.Next() {
		f, err := scanVaultFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan file row: %v", common.ErrDatabaseRead, err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate files for %s: %v", common.ErrDatabaseRead, subject, err)
	}
	return result, nil
}

func (r *PostgresRepository) UpdateFormData(ctx context.Context, fileID, encryptedForm, nonceForm string) error {
	query := `UPDATE vault_files SET encrypted_form_data=$2, nonce_form_data=$3, updated_at=now()
		WHERE file_id=$1`

	n, err := dbx.ExecOne(ctx, r.db, query, fileID, encryptedForm, nonceForm)
	if err != nil {
		return fmt.Errorf("%w: update form data %s: %v", common.ErrDatabaseWrite, fileID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, fileID string, soft bool) error {
	// Access grants cascade on hard delete via the FK constraint.
	query := `DELETE FROM vault_files WHERE file_id=$1`
	if soft {
		query = `UPDATE vault_files SET status='deleted', updated_at=now() WHERE file_id=$1`
	}

	n, err := dbx.ExecOne(ctx, r.db, query, fileID)
	if err != nil {
		return fmt.Errorf("%w: delete file %s (soft=%t): %v", common.ErrDatabaseWrite, fileID, soft, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	return nil
}

func (r *PostgresRepository) GrantAccess(ctx context.Context, g *models.VaultFileAccess) error {
	query := `
		INSERT INTO vault_file_access (id, file_id, recipient_user_id, granted_by_user_id, status)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := r.db.ExecContext(ctx, query,
		g.ID, g.FileID, g.RecipientUserID, g.GrantedByUserID, string(g.Status))
	if err != nil {
		switch pgErrCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessAlreadyExists, g.FileID, g.RecipientUserID)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: file %s", common.ErrFileNotFound, g.FileID)
		}
		return fmt.Errorf("%w: grant access %s/%s: %v", common.ErrDatabaseWrite, g.FileID, g.RecipientUserID, err)
	}
	return nil
}

func (r *PostgresRepository) ActivateAccess(ctx context.Context, fileID, recipientID string) error {
	// Guarded update: only a pending grant may become active. The guard also
	// serializes against a concurrent revoke at row granularity.
	query := `UPDATE vault_file_access SET status='active', activated_at=now()
		WHERE file_id=$1 AND recipient_user_id=$2 AND status='pending'`

	n, err := dbx.ExecOne(ctx, r.db, query, fileID, recipientID)
	if err != nil {
		return fmt.Errorf("%w: activate access %s/%s: %v", common.ErrDatabaseWrite, fileID, recipientID, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the row is missing or it is not pending.
	var status string
	err = r.db.QueryRowContext(ctx,
		`SELECT status FROM vault_file_access WHERE file_id=$1 AND recipient_user_id=$2`,
		fileID, recipientID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessNotFound, fileID, recipientID)
	}
	if err != nil {
		return fmt.Errorf("%w: activate access %s/%s: %v", common.ErrDatabaseRead, fileID, recipientID, err)
	}
	return fmt.Errorf("%w: cannot activate access with status %q", common.ErrDatabaseWrite, status)
}

func (r *PostgresRepository) RevokeAccess(ctx context.Context, fileID, recipientID string) error {
	// Revoking an already revoked grant re-stamps revoked_at.
	query := `UPDATE vault_file_access SET status='revoked', revoked_at=now()
		WHERE file_id=$1 AND recipient_user_id=$2`

	n, err := dbx.ExecOne(ctx, r.db, query, fileID, recipientID)
	if err != nil {
		return fmt.Errorf("%w: revoke access %s/%s: %v", common.ErrDatabaseWrite, fileID, recipientID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file %s, recipient %s", common.ErrAccessNotFound, fileID, recipientID)
	}
	return nil
}

func (r *PostgresRepository) RecordAccess(ctx context.Context, fileID, userID string) error {
	query := `UPDATE vault_file_access SET last_accessed_at=now(), access_count=access_count+1
		WHERE file_id=$1 AND recipient_user_id=$2`

	// Zero rows is fine: owners have no grant row to stamp.
	if _, err := dbx.ExecOne(ctx, r.db, query, fileID, userID); err != nil {
		return fmt.Errorf("%w: record access %s/%s: %v", common.ErrDatabaseWrite, fileID, userID, err)
	}
	return nil
}

func (r *PostgresRepository) CanDecrypt(ctx context.Context, fileID, userID string) error {
	var ownerID string
	err := r.db.QueryRowContext(ctx,
		`SELECT owner_user_id FROM vault_files WHERE file_id=$1`, fileID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: file %s", common.ErrFileNotFound, fileID)
	}
	if err != nil {
		return fmt.Errorf("%w: check access %s: %v", common.ErrDatabaseRead, fileID, err)
	}

	if ownerID == userID {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx,
		`SELECT 1 FROM vault_file_access WHERE file_id=$1 AND recipient_user_id=$2 AND status='active'`,
		fileID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s, file %s", common.ErrUnauthorizedAccess, userID, fileID)
	}
	if err != nil {
		return fmt.Errorf("%w: check access %s/%s: %v", common.ErrDatabaseRead, fileID, userID, err)
	}
	return nil
}

func (r *PostgresRepository) AccessList(ctx context.Context, fileID string) ([]*models.VaultFileAccess, error) {
	query := `SELECT id, file_id, recipient_user_id, granted_by_user_id, status,
			granted_at, activated_at, revoked_at, last_accessed_at, access_count
		FROM vault_file_access WHERE file_id=$1 ORDER BY granted_at`

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: access list %s: %v", common.ErrDatabaseRead, fileID, err)
	}
	defer rows.Close()

	var result []*models.VaultFileAccess
	for rows.Next() {
		var (
			g      models.VaultFileAccess
			status string
		)
		if err := rows.Scan(&g.ID, &g.FileID, &g.RecipientUserID, &g.GrantedByUserID, &status,
			&g.GrantedAt, &g.ActivatedAt, &g.RevokedAt, &g.LastAccessedAt, &g.AccessCount); err != nil {
			return nil, fmt.Errorf("%w: scan access row: %v", common.ErrDatabaseRead, err)
		}
		g.Status = models.AccessStatus(status)
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate access list %s: %v", common.ErrDatabaseRead, fileID, err)
	}
	return result, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
