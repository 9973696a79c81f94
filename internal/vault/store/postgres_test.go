package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heirkeep/vault/internal/common"
	"github.com/heirkeep/vault/internal/vault/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func testVaultFile() *models.VaultFile {
	return &models.VaultFile{
		FileID:            "f1",
		OwnerUserID:       "u1",
		TemplateID:        "will",
		CreationMode:      models.CreationModeManual,
		EncryptedDEK:      "ZGVr",
		EncryptedFormData: "Zm9ybQ==",
		NonceFormData:     "bm9uY2U=",
		Status:            models.FileStatusActive,
	}
}

func fileRows(f *models.VaultFile) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"file_id", "owner_user_id", "template_id", "creation_mode",
		"encrypted_dek", "encrypted_form_data", "nonce_form_data",
		"has_source_file", "source_file_s3_key", "source_file_nonce",
		"source_file_original_name", "source_file_mime_type", "source_file_size_bytes",
		"status", "created_at", "updated_at",
	}).AddRow(
		f.FileID, f.OwnerUserID, f.TemplateID, string(f.CreationMode),
		f.EncryptedDEK, f.EncryptedFormData, f.NonceFormData,
		f.HasSourceFile, nil, nil,
		nil, nil, nil,
		string(f.Status), now, now,
	)
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	f := testVaultFile()
	mock.ExpectExec(`INSERT INTO vault_files`).
		WithArgs(
			"f1", "u1", "will", "manual",
			f.EncryptedDEK, f.EncryptedFormData, f.NonceFormData,
			false, nil, nil,
			nil, nil, nil,
			"active",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vault_files`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "vault_files_pkey"})

	err := repo.Create(context.Background(), testVaultFile())
	if !errors.Is(err, common.ErrDuplicateFile) {
		t.Fatalf("want ErrDuplicateFile, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vault_files`).WillReturnError(errors.New("db is down"))

	err := repo.Create(context.Background(), testVaultFile())
	if !errors.Is(err, common.ErrDatabaseWrite) {
		t.Fatalf("want ErrDatabaseWrite, got %v", err)
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	f := testVaultFile()
	mock.ExpectQuery(`SELECT .* FROM vault_files WHERE file_id=\$1`).
		WithArgs("f1").
		WillReturnRows(fileRows(f))

	got, err := repo.Get(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.FileID != "f1" || got.OwnerUserID != "u1" {
		t.Fatalf("unexpected file: %+v", got)
	}
	if got.Status != models.FileStatusActive || got.CreationMode != models.CreationModeManual {
		t.Fatalf("enum fields not restored: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM vault_files WHERE file_id=\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("absence must not be an error, got %v", err)
	}
	if got != nil {
		t.Fatalf("want nil file, got %+v", got)
	}
}

func TestListByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := fileRows(testVaultFile())
	mock.ExpectQuery(`SELECT .* FROM vault_files\s+WHERE owner_user_id=\$1 AND status=\$2`).
		WithArgs("u1", "active", "").
		WillReturnRows(rows)

	files, err := repo.ListByOwner(context.Background(), "u1", "", models.FileStatusActive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].FileID != "f1" {
		t.Fatalf("unexpected result: %+v", files)
	}
}

func TestListSharedWith(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM vault_files f\s+JOIN vault_file_access a`).
		WithArgs("u2", "active").
		WillReturnRows(fileRows(testVaultFile()))

	files, err := repo.ListSharedWith(context.Background(), "u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("want 1 file, got %d", len(files))
	}
}

func TestUpdateFormData(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_files SET encrypted_form_data=\$2, nonce_form_data=\$3`).
		WithArgs("f1", "bmV3", "bm9uY2Uy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateFormData(context.Background(), "f1", "bmV3", "bm9uY2Uy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateFormData_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_files SET encrypted_form_data=\$2, nonce_form_data=\$3`).
		WithArgs("missing", "x", "y").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateFormData(context.Background(), "missing", "x", "y")
	if !errors.Is(err, common.ErrFileNotFound) {
		t.Fatalf("want ErrFileNotFound, got %v", err)
	}
}

func TestDelete_Soft(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_files SET status='deleted'`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "f1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDelete_Hard(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM vault_files WHERE file_id=\$1`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "f1", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM vault_files WHERE file_id=\$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing", false)
	if !errors.Is(err, common.ErrFileNotFound) {
		t.Fatalf("want ErrFileNotFound, got %v", err)
	}
}

func TestGrantAccess(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vault_file_access`).
		WithArgs("g1", "f1", "u2", "u1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.GrantAccess(context.Background(), &models.VaultFileAccess{
		ID: "g1", FileID: "f1", RecipientUserID: "u2", GrantedByUserID: "u1",
		Status: models.AccessStatusPending,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGrantAccess_AlreadyExists(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vault_file_access`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_file_recipient"})

	err := repo.GrantAccess(context.Background(), &models.VaultFileAccess{
		ID: "g1", FileID: "f1", RecipientUserID: "u2", GrantedByUserID: "u1",
		Status: models.AccessStatusPending,
	})
	if !errors.Is(err, common.ErrAccessAlreadyExists) {
		t.Fatalf("want ErrAccessAlreadyExists, got %v", err)
	}
}

func TestGrantAccess_FileMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO vault_file_access`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "vault_file_access_file_id_fkey"})

	err := repo.GrantAccess(context.Background(), &models.VaultFileAccess{
		ID: "g1", FileID: "missing", RecipientUserID: "u2", GrantedByUserID: "u1",
		Status: models.AccessStatusPending,
	})
	if !errors.Is(err, common.ErrFileNotFound) {
		t.Fatalf("want ErrFileNotFound, got %v", err)
	}
}

func TestActivateAccess(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET status='active'`).
		WithArgs("f1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ActivateAccess(context.Background(), "f1", "u2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestActivateAccess_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET status='active'`).
		WithArgs("f1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM vault_file_access`).
		WithArgs("f1", "u2").
		WillReturnError(sql.ErrNoRows)

	err := repo.ActivateAccess(context.Background(), "f1", "u2")
	if !errors.Is(err, common.ErrAccessNotFound) {
		t.Fatalf("want ErrAccessNotFound, got %v", err)
	}
}

func TestActivateAccess_NotPending(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET status='active'`).
		WithArgs("f1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM vault_file_access`).
		WithArgs("f1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("revoked"))

	err := repo.ActivateAccess(context.Background(), "f1", "u2")
	if !errors.Is(err, common.ErrDatabaseWrite) {
		t.Fatalf("want ErrDatabaseWrite for a non-pending grant, got %v", err)
	}
}

func TestRevokeAccess(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET status='revoked'`).
		WithArgs("f1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RevokeAccess(context.Background(), "f1", "u2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokeAccess_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET status='revoked'`).
		WithArgs("f1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RevokeAccess(context.Background(), "f1", "u2")
	if !errors.Is(err, common.ErrAccessNotFound) {
		t.Fatalf("want ErrAccessNotFound, got %v", err)
	}
}

func TestRecordAccess_NoGrantRowIsFine(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE vault_file_access SET last_accessed_at=now\(\)`).
		WithArgs("f1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RecordAccess(context.Background(), "f1", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCanDecrypt_Owner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id FROM vault_files`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow("u1"))

	if err := repo.CanDecrypt(context.Background(), "f1", "u1"); err != nil {
		t.Fatalf("owner must be allowed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCanDecrypt_ActiveGrant(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id FROM vault_files`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow("u1"))
	mock.ExpectQuery(`SELECT 1 FROM vault_file_access`).
		WithArgs("f1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := repo.CanDecrypt(context.Background(), "f1", "u2"); err != nil {
		t.Fatalf("active grant must be allowed: %v", err)
	}
}

func TestCanDecrypt_NoGrant(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id FROM vault_files`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow("u1"))
	mock.ExpectQuery(`SELECT 1 FROM vault_file_access`).
		WithArgs("f1", "u3").
		WillReturnError(sql.ErrNoRows)

	err := repo.CanDecrypt(context.Background(), "f1", "u3")
	if !errors.Is(err, common.ErrUnauthorizedAccess) {
		t.Fatalf("want ErrUnauthorizedAccess, got %v", err)
	}
}

func TestCanDecrypt_FileMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id FROM vault_files`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.CanDecrypt(context.Background(), "missing", "u1")
	if !errors.Is(err, common.ErrFileNotFound) {
		t.Fatalf("want ErrFileNotFound, got %v", err)
	}
}

func TestAccessList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	granted := time.Now().Add(-time.Hour)
	activated := time.Now().Add(-30 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "file_id", "recipient_user_id", "granted_by_user_id", "status",
		"granted_at", "activated_at", "revoked_at", "last_accessed_at", "access_count",
	}).
		AddRow("g1", "f1", "u2", "u1", "active", granted, activated, nil, nil, int64(3)).
		AddRow("g2", "f1", "u3", "u1", "pending", granted, nil, nil, nil, int64(0))

	mock.ExpectQuery(`SELECT id, file_id, recipient_user_id`).
		WithArgs("f1").
		WillReturnRows(rows)

	grants, err := repo.AccessList(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("want 2 grants, got %d", len(grants))
	}
	if grants[0].Status != models.AccessStatusActive || grants[0].ActivatedAt == nil {
		t.Fatalf("active grant not restored: %+v", grants[0])
	}
	if grants[1].ActivatedAt != nil || grants[1].RevokedAt != nil {
		t.Fatalf("pending grant must have nil timestamps: %+v", grants[1])
	}
	if grants[0].AccessCount != 3 {
		t.Fatalf("access count = %d, want 3", grants[0].AccessCount)
	}
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("f.", "a, b,\n\t\tc")
	if got != "f.a, f.b, f.c" {
		t.Fatalf("prefixColumns = %q", got)
	}
}
