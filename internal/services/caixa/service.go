package caixa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"labonnas-pos/internal/apperr"
	"labonnas-pos/internal/auth"
	"labonnas-pos/internal/docstore"
	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/telemetry"
)

var (
	ErrNoOpenSession      = apperr.New(apperr.KindPrecondition, "no_open_session", "no open caixa for this user")
	ErrSessionAlreadyOpen = apperr.New(apperr.KindPrecondition, "session_already_open", "this user already has an open caixa")
	ErrTablesNotAvailable = apperr.New(apperr.KindPrecondition, "tables_not_available", "all tables must be available before closing the caixa")
	errNotOperator        = apperr.Forbidden("role cannot operate the caixa")
)

type tableChecker interface {
	NotAvailable(ctx context.Context) ([]int, error)
}

type notifier interface {
	Notify(ctx context.Context, msg models.Notification)
}

// Summary is the running state of an open session.
type Summary struct {
	Session      models.CaixaSession        `json:"session"`
	Totals       models.Totals              `json:"totals"`
	Transactions []models.LedgerTransaction `json:"transactions"`
}

// Service is the cash-register ledger. Each user has at most one open
// session, recorded in caixa_aberto under the user id.
type Service struct {
	store        docstore.Store
	sessions     docstore.Collection[models.CaixaSession]
	openByUser   docstore.Collection[models.OpenCaixa]
	transactions docstore.Collection[models.LedgerTransaction]
	tables       tableChecker
	notifier     notifier
	logger       *logger.Logger
	tracer       trace.Tracer
	purgeOnClose bool
	now          func() time.Time
}

func NewService(store docstore.Store, tables tableChecker, n notifier, purgeOnClose bool, log *logger.Logger) *Service {
	return &Service{
		store:        store,
		sessions:     docstore.NewCollection[models.CaixaSession](store, models.CollectionSessions),
		openByUser:   docstore.NewCollection[models.OpenCaixa](store, models.CollectionOpenCaixa),
		transactions: docstore.NewCollection[models.LedgerTransaction](store, models.CollectionTransaction),
		tables:       tables,
		notifier:     n,
		logger:       log,
		tracer:       telemetry.Tracer("caixa"),
		purgeOnClose: purgeOnClose,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Open starts a session with an opening float. The session, its inicio
// entry and the user's open marker are written in one batch.
func (s *Service) Open(ctx context.Context, user auth.Session, openingFloat decimal.Decimal) (_ models.CaixaSession, err error) {
	ctx, span := s.tracer.Start(ctx, "caixa.Open", trace.WithAttributes(attribute.String("user.id", user.UserID)))
	defer func() { endSpan(span, err) }()

	if !user.CanOperateCaixa() {
		return models.CaixaSession{}, errNotOperator
	}
	if !openingFloat.IsPositive() {
		return models.CaixaSession{}, apperr.Validation("opening_float", "opening float must be greater than zero")
	}

	now := s.now()
	session := models.CaixaSession{
		ID:           uuid.NewString(),
		OpenedAt:     now,
		OpenedBy:     user.UserID,
		OpenedByName: user.Name,
		OpeningFloat: openingFloat,
		Status:       models.SessionOpen,
	}
	inicio := models.LedgerTransaction{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Type:        models.TxInicio,
		Amount:      openingFloat,
		Description: "Abertura de caixa",
		CreatedAt:   now,
		CreatedBy:   user.UserID,
	}

	docs, err := s.store.Apply(ctx,
		docstore.Create(models.CollectionOpenCaixa, user.UserID, models.OpenCaixa{UserID: user.UserID, SessionID: session.ID, OpenedAt: now}),
		docstore.Create(models.CollectionSessions, session.ID, session),
		docstore.Create(models.CollectionTransaction, inicio.ID, inicio),
	)
	if err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return models.CaixaSession{}, ErrSessionAlreadyOpen
		}
		return models.CaixaSession{}, apperr.Storage(err)
	}
	session.Version = docs[1].Version

	s.logger.Info("caixa_opened", "Caixa opened", "", map[string]interface{}{
		"session_id":    session.ID,
		"user_id":       user.UserID,
		"opening_float": openingFloat.String(),
	})
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotifyCaixaOpened,
		Amount:    &openingFloat,
		ChangedBy: user.Name,
	})
	return session, nil
}

// Current returns the user's open session.
func (s *Service) Current(ctx context.Context, userID string) (models.CaixaSession, error) {
	marker, err := s.openByUser.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.CaixaSession{}, ErrNoOpenSession
		}
		return models.CaixaSession{}, apperr.Storage(err)
	}
	session, err := s.sessions.Get(ctx, marker.SessionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return models.CaixaSession{}, ErrNoOpenSession
		}
		return models.CaixaSession{}, apperr.Storage(err)
	}
	if session.Status != models.SessionOpen {
		return models.CaixaSession{}, ErrNoOpenSession
	}
	return session, nil
}

// Transactions returns the transactions of a session, oldest first.
func (s *Service) Transactions(ctx context.Context, sessionID string) ([]models.LedgerTransaction, error) {
	txs, err := s.transactions.List(ctx, docstore.Eq("session_id", sessionID))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}

// Summary returns the user's open session with its running totals.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	session, err := s.Current(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	txs, err := s.Transactions(ctx, session.ID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Session: session, Totals: ComputeTotals(txs), Transactions: txs}, nil
}

// AddTransaction posts a manual entrada, saida or compra to the user's
// open session.
func (s *Service) AddTransaction(ctx context.Context, user auth.Session, txType models.TransactionType, amount decimal.Decimal, description string) (_ models.LedgerTransaction, err error) {
	ctx, span := s.tracer.Start(ctx, "caixa.AddTransaction", trace.WithAttributes(
		attribute.String("user.id", user.UserID),
		attribute.String("caixa.tx_type", string(txType)),
	))
	defer func() { endSpan(span, err) }()

	if !user.CanOperateCaixa() {
		return models.LedgerTransaction{}, errNotOperator
	}
	if !txType.Manual() {
		return models.LedgerTransaction{}, apperr.Validation("type", "type must be entrada, saida or compra")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return models.LedgerTransaction{}, apperr.Validation("description", "description is required")
	}
	if !amount.IsPositive() {
		return models.LedgerTransaction{}, apperr.Validation("amount", "amount must be greater than zero")
	}

	var tx models.LedgerTransaction
	err = docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		session, err := s.Current(ctx, user.UserID)
		if err != nil {
			return err
		}
		var writes []docstore.Write
		tx, writes = s.entryWrites(session, txType, amount, description, user.UserID)
		_, err = s.store.Apply(ctx, writes...)
		return err
	})
	if err != nil {
		return models.LedgerTransaction{}, apperr.Storage(err)
	}

	s.logger.Info("caixa_transaction_added", "Ledger transaction added", "", map[string]interface{}{
		"session_id": tx.SessionID,
		"type":       tx.Type,
		"amount":     tx.Amount.String(),
		"user_id":    user.UserID,
	})
	return tx, nil
}

// EntryWrites returns the writes that post an entrada to the user's open
// session, for callers that need the entry in their own batch. ok is false
// when the user has no open session.
func (s *Service) EntryWrites(ctx context.Context, userID string, amount decimal.Decimal, description string) (writes []docstore.Write, ok bool, err error) {
	session, err := s.Current(ctx, userID)
	if errors.Is(err, ErrNoOpenSession) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	_, writes = s.entryWrites(session, models.TxEntrada, amount, description, userID)
	return writes, true, nil
}

// entryWrites creates the transaction and bumps the session, conditioned on
// the session version so a concurrent close cannot miss the entry.
func (s *Service) entryWrites(session models.CaixaSession, txType models.TransactionType, amount decimal.Decimal, description, userID string) (models.LedgerTransaction, []docstore.Write) {
	now := s.now()
	tx := models.LedgerTransaction{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
		CreatedBy:   userID,
	}
	return tx, []docstore.Write{
		docstore.Create(models.CollectionTransaction, tx.ID, tx),
		docstore.Update(models.CollectionSessions, session.ID, map[string]any{"last_tx_at": now}).IfVersion(session.Version),
	}
}

// Close ends the user's session. It is refused while any table is not
// available. The closing fields, the fim record and the removal of the
// open marker are written in one batch; afterwards the session's
// transactions are purged when configured.
func (s *Service) Close(ctx context.Context, user auth.Session, closingFloat decimal.Decimal) (_ models.CaixaSession, err error) {
	ctx, span := s.tracer.Start(ctx, "caixa.Close", trace.WithAttributes(attribute.String("user.id", user.UserID)))
	defer func() { endSpan(span, err) }()

	if !user.CanOperateCaixa() {
		return models.CaixaSession{}, errNotOperator
	}
	if closingFloat.IsNegative() {
		return models.CaixaSession{}, apperr.Validation("closing_float", "closing float cannot be negative")
	}

	var (
		closed models.CaixaSession
		txIDs  []string
	)
	err = docstore.Retry(ctx, docstore.DefaultAttempts, func(ctx context.Context) error {
		session, err := s.Current(ctx, user.UserID)
		if err != nil {
			return err
		}

		busy, err := s.tables.NotAvailable(ctx)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			numbers := make([]string, len(busy))
			for i, n := range busy {
				numbers[i] = strconv.Itoa(n)
			}
			return apperr.WithMetadata(ErrTablesNotAvailable.Kind, ErrTablesNotAvailable.Code,
				fmt.Sprintf("tables not available: %s", strings.Join(numbers, ", ")),
				map[string]string{"tables": strings.Join(numbers, ",")})
		}

		txs, err := s.Transactions(ctx, session.ID)
		if err != nil {
			return err
		}
		totals := ComputeTotals(txs)
		difference := closingFloat.Sub(totals.SaldoFinal)
		now := s.now()

		fim := models.LedgerTransaction{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Type:        models.TxFim,
			Amount:      closingFloat,
			Description: "Fechamento de caixa",
			CreatedAt:   now,
			CreatedBy:   user.UserID,
		}
		docs, err := s.store.Apply(ctx,
			docstore.Update(models.CollectionSessions, session.ID, map[string]any{
				"status":        models.SessionClosed,
				"closed_at":     now,
				"closed_by":     user.UserID,
				"closing_float": closingFloat,
				"totals":        totals,
				"difference":    difference,
			}).IfVersion(session.Version),
			docstore.Create(models.CollectionTransaction, fim.ID, fim),
			docstore.Delete(models.CollectionOpenCaixa, user.UserID),
		)
		if err != nil {
			return err
		}

		closed, err = docstore.Decode[models.CaixaSession](docs[0])
		if err != nil {
			return err
		}
		txIDs = make([]string, 0, len(txs)+1)
		for _, tx := range txs {
			txIDs = append(txIDs, tx.ID)
		}
		txIDs = append(txIDs, fim.ID)
		return nil
	})
	if err != nil {
		return models.CaixaSession{}, apperr.Storage(err)
	}

	if s.purgeOnClose {
		if err := docstore.DeleteAll(ctx, s.store, models.CollectionTransaction, txIDs); err != nil {
			s.logger.Error("caixa_purge_failed", "Failed to purge closed session transactions", "", err, map[string]interface{}{
				"session_id": closed.ID,
			})
		}
	}

	s.logger.Info("caixa_closed", "Caixa closed", "", map[string]interface{}{
		"session_id":  closed.ID,
		"user_id":     user.UserID,
		"saldo_final": closed.Totals.SaldoFinal.String(),
		"difference":  closed.Difference.String(),
		"purged":      s.purgeOnClose,
	})
	saldo := closed.Totals.SaldoFinal
	s.notifier.Notify(ctx, models.Notification{
		Type:      models.NotifyCaixaClosed,
		Amount:    &saldo,
		ChangedBy: user.Name,
	})
	return closed, nil
}

// History returns closed sessions, newest first. limit <= 0 returns all.
func (s *Service) History(ctx context.Context, limit int) ([]models.CaixaSession, error) {
	sessions, err := s.sessions.List(ctx, docstore.Eq("status", models.SessionClosed))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return closedAt(sessions[i]).After(closedAt(sessions[j]))
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func closedAt(s models.CaixaSession) time.Time {
	if s.ClosedAt == nil {
		return time.Time{}
	}
	return *s.ClosedAt
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
