package memory

import (
	"context"
	"sort"
	"sync"

	"assessment-engine/internal/domain"
)

type certificateKey struct {
	userID string
	scope  domain.Scope
	kind   domain.CredentialKind
}

// CertificateStore is an in-memory implementation of app.CertificateStore.
// autoKeys plays the role of the unique (user, scope, kind) index of the automatic path.
type CertificateStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Certificate
	byCode   map[string]string
	autoKeys map[certificateKey]string
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		byID:     make(map[string]domain.Certificate),
		byCode:   make(map[string]string),
		autoKeys: make(map[certificateKey]string),
	}
}

func (s *CertificateStore) InsertUnique(_ context.Context, cert domain.Certificate) (domain.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := certificateKey{cert.UserID, cert.Scope, cert.Kind}
	if id, ok := s.autoKeys[key]; ok {
		return s.byID[id], false, nil
	}
	s.autoKeys[key] = cert.ID
	s.putLocked(cert)
	return cert, true, nil
}

func (s *CertificateStore) Insert(_ context.Context, cert domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(cert)
	return nil
}

func (s *CertificateStore) FindByKey(_ context.Context, userID string, scope domain.Scope, kind domain.CredentialKind) (domain.Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.autoKeys[certificateKey{userID, scope, kind}]
	if !ok {
		return domain.Certificate{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *CertificateStore) GetByCode(_ context.Context, code string) (domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Certificate{}, domain.ErrCertificateNotFound
	}
	return s.byID[id], nil
}

func (s *CertificateStore) ListByUser(_ context.Context, userID string) ([]domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Certificate
	for _, c := range s.byID {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

// Count returns the number of stored certificates.
func (s *CertificateStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *CertificateStore) putLocked(cert domain.Certificate) {
	s.byID[cert.ID] = cert
	s.byCode[cert.VerificationCode] = cert.ID
}
