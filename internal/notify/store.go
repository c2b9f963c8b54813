package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// ErrRuleNotFound is returned by Get when no rule has the given id.
var ErrRuleNotFound = errors.New("notify rule not found")

// Store persists notification rules in Postgres.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Init creates the notifications table when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*Rule)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create notifications table: %w", err)
	}
	return nil
}

func (s *Store) SelectAll(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := s.db.NewSelect().Model(&rules).Order("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select notify rules: %w", err)
	}
	return rules, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	rule := new(Rule)
	err := s.db.NewSelect().Model(rule).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select notify rule %s: %w", id, err)
	}
	return rule, nil
}

func (s *Store) Insert(ctx context.Context, rule *Rule) error {
	if _, err := s.db.NewInsert().Model(rule).Exec(ctx); err != nil {
		return fmt.Errorf("insert notify rule: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rule *Rule) error {
	if _, err := s.db.NewUpdate().Model(rule).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("update notify rule %s: %w", rule.ID, err)
	}
	return nil
}

// Delete removes a rule. A rule that is already gone is not an error, so
// quarantine and concurrent admin deletes stay idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.NewDelete().Model((*Rule)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("delete notify rule %s: %w", id, err)
	}
	return nil
}
