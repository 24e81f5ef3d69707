// Package store persists portfolios and their project links in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/index"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/postgres"
)

//go:embed schema.sql
var Schema string

const portfolioColumns = `id, user_id, title, category, experience, github_url, blog_url,
	description, tech_stack, image_url, created_at, updated_at`

var _ portfolio.Repository = (*Store)(nil)

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "portfolio-store"),
	}
}

// ApplySchema creates the tables when they do not exist yet.
func (s *Store) ApplySchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying portfolio schema: %w", err)
	}
	s.logger.Info("portfolio schema applied")
	return nil
}

// ListTechStacks returns the id and tech-stack field of every portfolio.
func (s *Store) ListTechStacks(ctx context.Context) ([]index.Record, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT id, tech_stack FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tech stacks: %w", err)
	}
	defer rows.Close()

	var records []index.Record
	for rows.Next() {
		var (
			rec       index.Record
			techStack sql.NullString
		)
		if err := rows.Scan(&rec.ID, &techStack); err != nil {
			return nil, fmt.Errorf("scanning tech stack row: %w", err)
		}
		rec.TechStack = fromNull(techStack)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tech stacks: %w", err)
	}
	return records, nil
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user %d: %w", userID, err)
	}
	return exists, nil
}

// Projects returns the projects among ids that exist. Missing ids are simply
// absent from the result.
func (s *Store) Projects(ctx context.Context, ids []int64) ([]portfolio.Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, user_id, portfolio_id FROM projects WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []portfolio.Project
	for rows.Next() {
		var (
			p           portfolio.Project
			portfolioID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &portfolioID); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		if portfolioID.Valid {
			id := portfolioID.Int64
			p.PortfolioID = &id
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projects: %w", err)
	}
	return projects, nil
}

// Get loads a portfolio with its project ids.
func (s *Store) Get(ctx context.Context, id int64) (*portfolio.Portfolio, error) {
	p, err := scanPortfolio(s.db.DB.QueryRowContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if p.ProjectIDs, err = projectIDs(ctx, s.db.DB, id); err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts p, links its projects, and fills in the generated id and
// timestamps. beforeCommit, when not nil, runs last inside the transaction.
func (s *Store) Create(ctx context.Context, p *portfolio.Portfolio, beforeCommit func(id int64)) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO portfolios (user_id, title, category, experience, github_url, blog_url,
				description, tech_stack, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`,
			p.UserID, p.Title, p.Category, p.Experience, p.GithubURL, p.BlogURL,
			p.Description, toNull(p.TechStack), p.ImageURL,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting portfolio: %w", err)
		}
		if err := linkProjects(ctx, tx, p.ID, p.ProjectIDs); err != nil {
			return err
		}
		if beforeCommit != nil {
			beforeCommit(p.ID)
		}
		return nil
	})
}

// Update locks the portfolio row, passes the current state to apply, and
// writes the state apply returns. The row stays locked until commit, so the
// returned previous state is exactly what the update replaced.
func (s *Store) Update(ctx context.Context, id int64, apply func(current portfolio.Portfolio) (portfolio.Portfolio, error)) (previous, updated *portfolio.Portfolio, err error) {
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		current, err := lockPortfolio(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := apply(*current)
		if err != nil {
			return err
		}
		next.ID = id
		err = tx.QueryRowContext(ctx,
			`UPDATE portfolios SET title = $2, category = $3, experience = $4, github_url = $5,
				blog_url = $6, description = $7, tech_stack = $8, image_url = $9, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			id, next.Title, next.Category, next.Experience, next.GithubURL, next.BlogURL,
			next.Description, toNull(next.TechStack), next.ImageURL,
		).Scan(&next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating portfolio %d: %w", id, err)
		}
		keep := next.ProjectIDs
		if keep == nil {
			keep = []int64{}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET portfolio_id = NULL WHERE portfolio_id = $1 AND NOT (id = ANY($2))`,
			id, pq.Array(keep),
		); err != nil {
			return fmt.Errorf("unlinking projects of portfolio %d: %w", id, err)
		}
		if err := linkProjects(ctx, tx, id, next.ProjectIDs); err != nil {
			return err
		}
		previous, updated = current, &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return previous, updated, nil
}

// Delete locks the portfolio row, lets check veto the deletion, and deletes
// it. It returns the state that was deleted.
func (s *Store) Delete(ctx context.Context, id int64, check func(current portfolio.Portfolio) error) (*portfolio.Portfolio, error) {
	var deleted *portfolio.Portfolio
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		current, err := lockPortfolio(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := check(*current); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM portfolios WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deleting portfolio %d: %w", id, err)
		}
		deleted = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func lockPortfolio(ctx context.Context, tx *sql.Tx, id int64) (*portfolio.Portfolio, error) {
	p, err := scanPortfolio(tx.QueryRowContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if p.ProjectIDs, err = projectIDs(ctx, tx, id); err != nil {
		return nil, err
	}
	return p, nil
}

func scanPortfolio(row *sql.Row) (*portfolio.Portfolio, error) {
	var (
		p         portfolio.Portfolio
		techStack sql.NullString
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Category, &p.Experience, &p.GithubURL,
		&p.BlogURL, &p.Description, &techStack, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.ErrPortfolioNotFound, "portfolio not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning portfolio: %w", err)
	}
	p.TechStack = fromNull(techStack)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func projectIDs(ctx context.Context, q queryer, portfolioID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM projects WHERE portfolio_id = $1 ORDER BY id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("querying project links: %w", err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func linkProjects(ctx context.Context, tx *sql.Tx, portfolioID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET portfolio_id = $1 WHERE id = ANY($2)`,
		portfolioID, pq.Array(ids),
	); err != nil {
		return fmt.Errorf("linking projects to portfolio %d: %w", portfolioID, err)
	}
	return nil
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
