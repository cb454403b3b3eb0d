package postgres

import (
	"context"
	"fmt"
	"time"

	"assessment-engine/internal/domain"
	"github.com/uptrace/bun"
)

type certificateRow struct {
	bun.BaseModel `bun:"table:certificates,alias:cert"`

	ID               string    `bun:"id,pk"`
	UserID           string    `bun:"user_id,notnull"`
	RecipientName    string    `bun:"recipient_name,notnull"`
	CourseID         *string   `bun:"course_id"`
	ModuleID         *string   `bun:"module_id"`
	Kind             string    `bun:"kind,notnull"`
	Score            *float64  `bun:"score"`
	IssuedAt         time.Time `bun:"issued_at,notnull"`
	VerificationCode string    `bun:"verification_code,notnull"`
	Manual           bool      `bun:"manual,notnull"`
	AutoKey          string    `bun:"auto_key,nullzero"`
}

func newCertificateRow(c domain.Certificate) certificateRow {
	courseID, moduleID := scopeColumns(c.Scope)
	row := certificateRow{
		ID:               c.ID,
		UserID:           c.UserID,
		RecipientName:    c.RecipientName,
		CourseID:         courseID,
		ModuleID:         moduleID,
		Kind:             string(c.Kind),
		Score:            c.Score,
		IssuedAt:         c.IssuedAt,
		VerificationCode: c.VerificationCode,
		Manual:           c.Manual,
	}
	if !c.Manual {
		row.AutoKey = autoKey(c.UserID, c.Scope, c.Kind)
	}
	return row
}

func (r certificateRow) toDomain() domain.Certificate {
	return domain.Certificate{
		ID:               r.ID,
		UserID:           r.UserID,
		RecipientName:    r.RecipientName,
		Scope:            scopeFromColumns(r.CourseID, r.ModuleID),
		Kind:             domain.CredentialKind(r.Kind),
		Score:            r.Score,
		IssuedAt:         r.IssuedAt,
		VerificationCode: r.VerificationCode,
		Manual:           r.Manual,
	}
}

// CertificateStore keeps issued certificates. Automatic issuance is unique per
// auto_key; manual rows leave it NULL.
type CertificateStore struct {
	db *bun.DB
}

func NewCertificateStore(db *bun.DB) *CertificateStore {
	return &CertificateStore{db: db}
}

func (s *CertificateStore) InsertUnique(ctx context.Context, cert domain.Certificate) (domain.Certificate, bool, error) {
	row := newCertificateRow(cert)
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT (auto_key) DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.Certificate{}, false, fmt.Errorf("insert certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return row.toDomain(), true, nil
	}
	existing, found, err := s.FindByKey(ctx, cert.UserID, cert.Scope, cert.Kind)
	if err != nil {
		return domain.Certificate{}, false, err
	}
	if !found {
		return domain.Certificate{}, false, fmt.Errorf("insert certificate: conflicting row for %s vanished", row.AutoKey)
	}
	return existing, false, nil
}

func (s *CertificateStore) Insert(ctx context.Context, cert domain.Certificate) error {
	row := newCertificateRow(cert)
	row.AutoKey = ""
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *CertificateStore) FindByKey(ctx context.Context, userID string, scope domain.Scope, kind domain.CredentialKind) (domain.Certificate, bool, error) {
	var row certificateRow
	err := s.db.NewSelect().Model(&row).Where("cert.auto_key = ?", autoKey(userID, scope, kind)).Scan(ctx)
	if isNoRows(err) {
		return domain.Certificate{}, false, nil
	}
	if err != nil {
		return domain.Certificate{}, false, fmt.Errorf("find certificate: %w", err)
	}
	return row.toDomain(), true, nil
}

func (s *CertificateStore) GetByCode(ctx context.Context, code string) (domain.Certificate, error) {
	var row certificateRow
	err := s.db.NewSelect().Model(&row).Where("cert.verification_code = ?", code).Scan(ctx)
	if isNoRows(err) {
		return domain.Certificate{}, domain.ErrCertificateNotFound
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("get certificate: %w", err)
	}
	return row.toDomain(), nil
}

func (s *CertificateStore) ListByUser(ctx context.Context, userID string) ([]domain.Certificate, error) {
	var rows []certificateRow
	if err := s.db.NewSelect().Model(&rows).Where("cert.user_id = ?", userID).OrderExpr("cert.issued_at").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	out := make([]domain.Certificate, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func autoKey(userID string, scope domain.Scope, kind domain.CredentialKind) string {
	return userID + ":" + scope.String() + ":" + string(kind)
}
