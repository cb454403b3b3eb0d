package app

import (
	"context"
	"strings"
	"time"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPassScore is the minimum exam score that earns an exam certificate.
const DefaultPassScore = 50.0

// IssueRequest describes a certificate to mint.
type IssueRequest struct {
	UserID string
	Scope  domain.Scope
	Kind   domain.CredentialKind
	Score  *float64
}

// CertificateIssuer mints credentials. The automatic path is idempotent per
// (user, scope, kind); manual issuance is not.
type CertificateIssuer struct {
	store     CertificateStore
	structure CourseStructure
	lessons   LessonProgress
	users     UserDirectory
	notifier  Notifier
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	passScore float64
	now       func() time.Time
}

func NewCertificateIssuer(store CertificateStore, structure CourseStructure, lessons LessonProgress, users UserDirectory, notifier Notifier, passScore float64, log logrus.FieldLogger, m *metrics.Metrics) *CertificateIssuer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if passScore <= 0 {
		passScore = DefaultPassScore
	}
	return &CertificateIssuer{
		store:     store,
		structure: structure,
		lessons:   lessons,
		users:     users,
		notifier:  notifier,
		log:       log,
		metrics:   m,
		passScore: passScore,
		now:       time.Now,
	}
}

// IssueIfEligible returns the existing certificate for the triple, or mints one.
// The bool reports whether this call created it.
func (c *CertificateIssuer) IssueIfEligible(ctx context.Context, req IssueRequest) (domain.Certificate, bool, error) {
	if err := validateIssue(req); err != nil {
		return domain.Certificate{}, false, err
	}
	existing, found, err := c.store.FindByKey(ctx, req.UserID, req.Scope, req.Kind)
	if err != nil {
		return domain.Certificate{}, false, err
	}
	if found {
		return existing, false, nil
	}

	cert := c.newCertificate(ctx, req, false)
	stored, created, err := c.store.InsertUnique(ctx, cert)
	if err != nil {
		return domain.Certificate{}, false, err
	}
	if created {
		c.issued(stored, "auto")
	}
	return stored, created, nil
}

// IssueForLessonCompletion checks the lesson's module and course independently and
// issues a completion certificate for each one that is now fully completed.
func (c *CertificateIssuer) IssueForLessonCompletion(ctx context.Context, userID, lessonID string) ([]domain.Certificate, error) {
	lc, err := c.structure.LessonContext(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	var issued []domain.Certificate
	moduleDone, err := c.allDone(ctx, userID, lc.Module.LessonIDs)
	if err != nil {
		return nil, err
	}
	if moduleDone {
		cert, created, err := c.IssueIfEligible(ctx, IssueRequest{
			UserID: userID,
			Scope:  domain.Scope{Kind: domain.ScopeModule, ID: lc.Module.ModuleID},
			Kind:   domain.CredentialModuleCompletion,
		})
		if err != nil {
			return issued, err
		}
		if created {
			issued = append(issued, cert)
		}
	}

	courseDone, err := c.allDone(ctx, userID, lc.Course.LessonIDs())
	if err != nil {
		return issued, err
	}
	if courseDone {
		cert, created, err := c.IssueIfEligible(ctx, IssueRequest{
			UserID: userID,
			Scope:  domain.Scope{Kind: domain.ScopeCourse, ID: lc.Course.CourseID},
			Kind:   domain.CredentialCourseCompletion,
		})
		if err != nil {
			return issued, err
		}
		if created {
			issued = append(issued, cert)
		}
	}
	return issued, nil
}

// IssueForExam issues the exam credential for the attempt's scope when score passes.
func (c *CertificateIssuer) IssueForExam(ctx context.Context, userID string, scope domain.Scope, score float64) (*domain.Certificate, error) {
	if score < c.passScore {
		return nil, nil
	}
	kind := domain.CredentialModuleExam
	if scope.Kind == domain.ScopeCourse {
		kind = domain.CredentialCourseExam
	}
	s := score
	cert, created, err := c.IssueIfEligible(ctx, IssueRequest{UserID: userID, Scope: scope, Kind: kind, Score: &s})
	if err != nil || !created {
		return nil, err
	}
	return &cert, nil
}

// IssueManual always mints a new certificate.
func (c *CertificateIssuer) IssueManual(ctx context.Context, req IssueRequest) (domain.Certificate, error) {
	if err := validateIssue(req); err != nil {
		return domain.Certificate{}, err
	}
	cert := c.newCertificate(ctx, req, true)
	if err := c.store.Insert(ctx, cert); err != nil {
		return domain.Certificate{}, err
	}
	c.issued(cert, "manual")
	return cert, nil
}

// Verify is the public lookup by verification code.
func (c *CertificateIssuer) Verify(ctx context.Context, code string) (domain.PublicCertificate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.PublicCertificate{}, domain.ErrCertificateNotFound
	}
	cert, err := c.store.GetByCode(ctx, code)
	if err != nil {
		return domain.PublicCertificate{}, err
	}
	return cert.Public(), nil
}

// ListForUser returns all certificates held by userID.
func (c *CertificateIssuer) ListForUser(ctx context.Context, userID string) ([]domain.Certificate, error) {
	return c.store.ListByUser(ctx, userID)
}

func (c *CertificateIssuer) newCertificate(ctx context.Context, req IssueRequest, manual bool) domain.Certificate {
	name := ""
	if c.users != nil {
		n, err := c.users.DisplayName(ctx, req.UserID)
		if err != nil {
			c.log.WithField("user_id", req.UserID).WithError(err).Warn("recipient name lookup failed")
		}
		name = n
	}
	return domain.Certificate{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		RecipientName:    name,
		Scope:            req.Scope,
		Kind:             req.Kind,
		Score:            req.Score,
		IssuedAt:         c.now().UTC(),
		VerificationCode: NewVerificationCode(),
		Manual:           manual,
	}
}

func (c *CertificateIssuer) issued(cert domain.Certificate, path string) {
	c.metrics.CertificatesIssued.WithLabelValues(string(cert.Kind), path).Inc()
	scope := cert.Scope
	c.notifier.Publish(AwardNotice{
		Kind:             NoticeCertificateIssued,
		UserID:           cert.UserID,
		Credential:       cert.Kind,
		Scope:            &scope,
		VerificationCode: cert.VerificationCode,
		At:               cert.IssuedAt,
	})
	c.log.WithFields(logrus.Fields{
		"user_id": cert.UserID,
		"scope":   cert.Scope.String(),
		"kind":    cert.Kind,
		"path":    path,
	}).Info("certificate issued")
}

func (c *CertificateIssuer) allDone(ctx context.Context, userID string, lessonIDs []string) (bool, error) {
	if len(lessonIDs) == 0 {
		return false, nil
	}
	n, err := c.lessons.CountCompleted(ctx, userID, lessonIDs)
	if err != nil {
		return false, err
	}
	return n >= len(lessonIDs), nil
}

// NewVerificationCode returns a fresh public code: 32 upper-case hex characters of a random UUID.
func NewVerificationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func validateIssue(req IssueRequest) error {
	if req.UserID == "" || req.Scope.ID == "" {
		return domain.InvalidInputf("userId and scope are required")
	}
	switch req.Kind {
	case domain.CredentialModuleCompletion, domain.CredentialModuleExam:
		if req.Scope.Kind != domain.ScopeModule {
			return domain.InvalidInputf("%s requires a module scope", req.Kind)
		}
	case domain.CredentialCourseCompletion, domain.CredentialCourseExam:
		if req.Scope.Kind != domain.ScopeCourse {
			return domain.InvalidInputf("%s requires a course scope", req.Kind)
		}
	default:
		return domain.InvalidInputf("unknown credential kind %q", req.Kind)
	}
	return nil
}
