// Package credits implements the balance and debit operations of the credit
// layer.
package credits

import (
	"context"

	"github.com/R3E-Network/credit_layer/internal/app/domain/credit"
	"github.com/R3E-Network/credit_layer/internal/app/metrics"
	"github.com/R3E-Network/credit_layer/internal/app/storage"
	"github.com/R3E-Network/credit_layer/internal/errors"
	"github.com/R3E-Network/credit_layer/pkg/logger"
)

// Service composes the user directory and the ledger store. Concurrency
// safety for debits is delegated entirely to the store: the service adds no
// locking of its own.
type Service struct {
	store     storage.CreditStore
	directory storage.UserDirectory
	log       *logger.Logger
}

// New creates the credits service.
func New(store storage.CreditStore, directory storage.UserDirectory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("credits")
	}
	return &Service{store: store, directory: directory, log: log}
}

// GetBalance resolves the caller and returns the balance row, creating a
// zeroed row for users seen for the first time.
func (s *Service) GetBalance(ctx context.Context, email string) (credit.UserCredits, error) {
	u, err := s.directory.ResolveEmail(ctx, email)
	if err != nil {
		return credit.UserCredits{}, err
	}
	return s.store.GetBalance(ctx, u.ID)
}

// Debit atomically subtracts amount from the caller's balance and appends
// exactly one usage entry to the ledger. An over-debit changes nothing and
// returns InsufficientCredits.
func (s *Service) Debit(ctx context.Context, email string, amount int, reason, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("amount must be positive")
	}

	u, err := s.directory.ResolveEmail(ctx, email)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	uc, tx, err := s.store.Debit(ctx, u.ID, amount, reason, tenantID)
	if err != nil {
		if se := errors.GetServiceError(err); se != nil && se.Code == errors.CodeInsufficientCredits {
			metrics.RecordDebit("insufficient")
			s.log.WithFields(map[string]interface{}{
				"user_id": u.ID,
				"amount":  amount,
				"tenant":  tenantID,
			}).Info("debit refused: insufficient credits")
		} else {
			metrics.RecordDebit("error")
		}
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	metrics.RecordDebit("ok")
	s.log.WithFields(map[string]interface{}{
		"user_id": u.ID,
		"amount":  amount,
		"balance": uc.Available,
		"tenant":  tenantID,
	}).Info("debit committed")
	return uc, tx, nil
}

// Grant atomically adds amount to the caller's balance with a grant ledger
// entry. Used by provisioning tooling over the same authenticated surface.
func (s *Service) Grant(ctx context.Context, email string, amount int, reason, tenantID string) (credit.UserCredits, credit.Transaction, error) {
	if amount <= 0 {
		return credit.UserCredits{}, credit.Transaction{}, errors.InvalidRequest("amount must be positive")
	}

	u, err := s.directory.ResolveEmail(ctx, email)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	uc, tx, err := s.store.Grant(ctx, u.ID, amount, reason, tenantID)
	if err != nil {
		return credit.UserCredits{}, credit.Transaction{}, err
	}

	metrics.RecordGrant()
	s.log.WithFields(map[string]interface{}{
		"user_id": u.ID,
		"amount":  amount,
		"balance": uc.Available,
	}).Info("grant committed")
	return uc, tx, nil
}

// History returns the caller's most recent ledger entries, newest first.
func (s *Service) History(ctx context.Context, email string, limit int) ([]credit.Transaction, error) {
	u, err := s.directory.ResolveEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, u.ID, limit)
}
