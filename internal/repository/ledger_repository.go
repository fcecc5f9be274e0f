package repository

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository holds per-team credit usage.
type LedgerRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.CreditLedger = (*LedgerRepository)(nil)

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetTeam(ctx context.Context, teamID string) (entities.Team, error) {
	t := entities.Team{ID: teamID}
	err := r.db.QueryRow(ctx, `SELECT plan, credits FROM teams WHERE id = $1`, teamID).Scan(&t.Plan, &t.Credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Team{}, fmt.Errorf("team %s: %w", teamID, err)
	}
	if err != nil {
		return entities.Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

// AddCredits increments usage in place. The read-compare in the gate and
// this increment are not one transaction, so a burst may overshoot the
// limit slightly.
func (r *LedgerRepository) AddCredits(ctx context.Context, teamID string, units int) error {
	tag, err := r.db.Exec(ctx, `UPDATE teams SET credits = credits + $2, updated_at = NOW() WHERE id = $1`, teamID, units)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add credits: team %s: %w", teamID, pgx.ErrNoRows)
	}
	return nil
}

// GetCreditStatus summarizes usage against the plan limit.
func (r *LedgerRepository) GetCreditStatus(ctx context.Context, teamID string) (entities.CreditStatus, error) {
	t, err := r.GetTeam(ctx, teamID)
	if err != nil {
		return entities.CreditStatus{}, err
	}
	return t.Status(), nil
}
