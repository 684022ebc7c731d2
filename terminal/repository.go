package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/terminal/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

type dialect int

const (
	dialectPostgres dialect = iota + 1
	dialectSQLite
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository is the transaction journal. It keeps records in memory unless
// it was built on a database.
type Repository struct {
	Transactions []*models.Transaction

	mu      sync.RWMutex
	db      *sql.DB
	dialect dialect
}

func NewRepository() *Repository {
	return &Repository{
		Transactions: make([]*models.Transaction, 0),
	}
}

// NewPGRepository constructs a postgres-backed journal.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db, dialect: dialectPostgres}
}

// NewSQLiteRepository constructs a journal on an embedded sqlite file.
func NewSQLiteRepository(db *sql.DB) *Repository {
	return &Repository{db: db, dialect: dialectSQLite}
}

const schema = `
CREATE TABLE IF NOT EXISTS pos_transactions (
    id TEXT PRIMARY KEY,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    masked_card TEXT NOT NULL,
    brand TEXT NOT NULL,
    card_fingerprint TEXT NOT NULL DEFAULT '',
    auth_code TEXT NOT NULL,
    processor TEXT NOT NULL,
    processor_txn_id TEXT NOT NULL,
    status TEXT NOT NULL,
    settlement_reference TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
)`

// EnsureSchema creates the journal table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating journal table: %w", err)
	}
	return nil
}

// rebind rewrites $N placeholders for drivers that only take ?.
func (r *Repository) rebind(query string) string {
	if r.dialect != dialectSQLite {
		return query
	}
	var sb strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			sb.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (r *Repository) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, existing := range r.Transactions {
			if existing.ID == t.ID {
				return fmt.Errorf("transaction %s: %w", t.ID, ErrConflict)
			}
		}
		r.Transactions = append(r.Transactions, t)
		return nil
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`
        INSERT INTO pos_transactions(id, amount, currency, masked_card, brand, card_fingerprint,
            auth_code, processor, processor_txn_id, status, settlement_reference, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `), t.ID, t.Amount.String(), t.Currency, t.MaskedCard, t.Brand, t.CardFingerprint,
		t.AuthCode, t.Processor, t.ProcessorTransactionID, string(t.Status), t.SettlementReference,
		t.CreatedAt.UTC().Format(timeLayout))
	if r.isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", t.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

const selectColumns = `id, amount, currency, masked_card, brand, card_fingerprint,
    auth_code, processor, processor_txn_id, status, settlement_reference, created_at`

func (r *Repository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, t := range r.Transactions {
			if t.ID == id {
				return t, nil
			}
		}
		return nil, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM pos_transactions WHERE id=$1`), id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTransactions returns the most recent transactions first. limit <= 0
// returns all of them.
func (r *Repository) ListTransactions(ctx context.Context, limit int) ([]*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]*models.Transaction, len(r.Transactions))
		copy(out, r.Transactions)
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	query := `SELECT ` + selectColumns + ` FROM pos_transactions ORDER BY created_at DESC`
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*models.Transaction, error) {
	var (
		t              models.Transaction
		amount, status string
		createdAt      string
	)
	err := s.Scan(&t.ID, &amount, &t.Currency, &t.MaskedCard, &t.Brand, &t.CardFingerprint,
		&t.AuthCode, &t.Processor, &t.ProcessorTransactionID, &status, &t.SettlementReference, &createdAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parsing stored amount %q: %w", amount, err)
	}
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing stored timestamp %q: %w", createdAt, err)
	}
	if t.Status, err = payment.ParseStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return r.dialect == dialectSQLite && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
