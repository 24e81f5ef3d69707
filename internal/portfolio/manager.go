package portfolio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/techstack"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/metrics"
)

// Repository is the relational system of record for portfolios.
type Repository interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	Projects(ctx context.Context, ids []int64) ([]Project, error)
	Get(ctx context.Context, id int64) (*Portfolio, error)
	// Create inserts p and sets its id. beforeCommit runs inside the
	// transaction once the id is known.
	Create(ctx context.Context, p *Portfolio, beforeCommit func(id int64)) error
	Update(ctx context.Context, id int64, apply func(current Portfolio) (Portfolio, error)) (previous, updated *Portfolio, err error)
	Delete(ctx context.Context, id int64, check func(current Portfolio) error) (*Portfolio, error)
}

// IndexSync receives a signal for every committed tech-stack change.
type IndexSync interface {
	OnCreated(id int64, techStack *string)
	OnUpdated(id int64, previous, current *string)
	OnDeleted(id int64, techStack *string)
	// Resync replaces whatever the index holds for id with the keywords of
	// techStack; nil removes id everywhere.
	Resync(id int64, techStack *string)
}

type ImageStore interface {
	PutImage(ctx context.Context, r io.Reader, size int64, contentType, filename string) (string, error)
	Remove(ctx context.Context, url string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Cache interface {
	GetOrLoad(ctx context.Context, id int64, load func(ctx context.Context) (*Portfolio, error)) (*Portfolio, error)
	Invalidate(ctx context.Context, id int64) error
}

// Options wires the optional collaborators. Nil Images, Events or Cache
// disable the matching feature.
type Options struct {
	Images  ImageStore
	Events  EventPublisher
	Cache   Cache
	Metrics *metrics.Metrics
	// Origin identifies this replica in published events.
	Origin string
}

// Manager implements portfolio create, update, delete and get. Index
// signals are sent only after the store transaction commits, and changes to
// one portfolio hold its key lock from the transaction through the index
// signal so the index applies them in commit order.
type Manager struct {
	repo   Repository
	index  IndexSync
	opts   Options
	locks  *keyLock
	logger *slog.Logger
}

func NewManager(repo Repository, index IndexSync, opts Options) *Manager {
	return &Manager{
		repo:   repo,
		index:  index,
		opts:   opts,
		locks:  newKeyLock(),
		logger: logger.WithComponent("portfolio-manager"),
	}
}

// Create persists a new portfolio for userID and indexes its tech stack.
func (m *Manager) Create(ctx context.Context, userID int64, req *Request, image *Image) (p *Portfolio, err error) {
	defer func() { m.observe("create", err) }()

	if req.ProjectIDs == nil {
		return nil, apperrors.New(apperrors.ErrProjectListMissing, http.StatusBadRequest, "project id list is required")
	}
	if err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := m.checkProjects(ctx, userID, 0, req.ProjectIDs); err != nil {
		return nil, err
	}
	imageURL, err := m.upload(ctx, image)
	if err != nil {
		return nil, err
	}

	p = fromRequest(req)
	p.UserID = userID
	p.ImageURL = imageURL

	var unlock func()
	err = m.repo.Create(ctx, p, func(id int64) {
		unlock = m.locks.Lock(id)
	})
	if err != nil {
		if unlock != nil {
			unlock()
		}
		m.discardImage(ctx, imageURL)
		return nil, fmt.Errorf("creating portfolio: %w", err)
	}
	m.index.OnCreated(p.ID, p.TechStack)
	unlock()

	logger.FromContext(ctx).Info("portfolio created", "portfolio_id", p.ID, "user_id", userID)
	m.publish(ctx, Event{Type: EventCreated, PortfolioID: p.ID, TechStack: p.TechStack})
	return p, nil
}

// Update replaces the portfolio's fields. The image is replaced only when a
// new one is supplied. Keywords of the previous tech stack are removed from
// the index before those of the new one are inserted.
func (m *Manager) Update(ctx context.Context, userID, id int64, req *Request, image *Image) (p *Portfolio, err error) {
	defer func() { m.observe("update", err) }()

	if req.ProjectIDs == nil {
		return nil, apperrors.New(apperrors.ErrProjectListMissing, http.StatusBadRequest, "project id list is required")
	}
	current, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, apperrors.Forbidden("portfolio %d belongs to another user", id)
	}
	if err := m.checkProjects(ctx, userID, id, req.ProjectIDs); err != nil {
		return nil, err
	}
	imageURL, err := m.upload(ctx, image)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(id)
	previous, updated, err := m.repo.Update(ctx, id, func(cur Portfolio) (Portfolio, error) {
		if cur.UserID != userID {
			return Portfolio{}, apperrors.Forbidden("portfolio %d belongs to another user", id)
		}
		next := *fromRequest(req)
		next.ID = cur.ID
		next.UserID = cur.UserID
		next.CreatedAt = cur.CreatedAt
		next.ImageURL = cur.ImageURL
		if imageURL != "" {
			next.ImageURL = imageURL
		}
		return next, nil
	})
	if err != nil {
		unlock()
		m.discardImage(ctx, imageURL)
		return nil, fmt.Errorf("updating portfolio %d: %w", id, err)
	}
	m.index.OnUpdated(id, previous.TechStack, updated.TechStack)
	unlock()

	m.invalidate(ctx, id)
	if imageURL != "" && previous.ImageURL != "" && previous.ImageURL != imageURL {
		m.discardImage(ctx, previous.ImageURL)
	}
	logger.FromContext(ctx).Info("portfolio updated", "portfolio_id", id, "user_id", userID)
	m.publish(ctx, Event{
		Type:              EventUpdated,
		PortfolioID:       id,
		TechStack:         updated.TechStack,
		PreviousTechStack: previous.TechStack,
	})
	return updated, nil
}

// Delete removes the portfolio and drops it from every keyword it is
// indexed under.
func (m *Manager) Delete(ctx context.Context, userID, id int64) (err error) {
	defer func() { m.observe("delete", err) }()

	unlock := m.locks.Lock(id)
	deleted, err := m.repo.Delete(ctx, id, func(cur Portfolio) error {
		if cur.UserID != userID {
			return apperrors.Forbidden("portfolio %d belongs to another user", id)
		}
		return nil
	})
	if err != nil {
		unlock()
		return fmt.Errorf("deleting portfolio %d: %w", id, err)
	}
	m.index.OnDeleted(id, deleted.TechStack)
	unlock()

	m.invalidate(ctx, id)
	m.discardImage(ctx, deleted.ImageURL)
	logger.FromContext(ctx).Info("portfolio deleted", "portfolio_id", id, "user_id", userID)
	m.publish(ctx, Event{Type: EventDeleted, PortfolioID: id, TechStack: deleted.TechStack})
	return nil
}

// Resync re-reads portfolio id from the store and makes the index match
// the stored row. It holds the portfolio's key lock across the read and the
// index update, so it is ordered against local changes to the same
// portfolio. A portfolio that no longer exists is removed from the index.
func (m *Manager) Resync(ctx context.Context, id int64) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.repo.Get(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrPortfolioNotFound):
		m.index.Resync(id, nil)
	case err != nil:
		return fmt.Errorf("reading portfolio %d: %w", id, err)
	default:
		m.index.Resync(id, p.TechStack)
	}
	return nil
}

// Get returns a portfolio, through the cache when one is configured.
func (m *Manager) Get(ctx context.Context, id int64) (*Portfolio, error) {
	if m.opts.Cache == nil {
		return m.repo.Get(ctx, id)
	}
	return m.opts.Cache.GetOrLoad(ctx, id, func(ctx context.Context) (*Portfolio, error) {
		return m.repo.Get(ctx, id)
	})
}

func (m *Manager) requireUser(ctx context.Context, userID int64) error {
	ok, err := m.repo.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound(apperrors.ErrUserNotFound, "user %d not found", userID)
	}
	return nil
}

// checkProjects requires every project to exist, belong to userID, and be
// either unlinked or linked to portfolioID already.
func (m *Manager) checkProjects(ctx context.Context, userID, portfolioID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	projects, err := m.repo.Projects(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[int64]Project, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return apperrors.NotFound(apperrors.ErrProjectNotFound, "project %d not found", id)
		}
		if p.UserID != userID {
			return apperrors.Forbidden("project %d belongs to another user", id)
		}
		if p.PortfolioID != nil && *p.PortfolioID != portfolioID {
			return apperrors.Forbidden("project %d is linked to another portfolio", id)
		}
	}
	return nil
}

func (m *Manager) upload(ctx context.Context, image *Image) (string, error) {
	if image == nil || image.Size == 0 {
		return "", nil
	}
	if m.opts.Images == nil {
		return "", apperrors.Invalid("image uploads are not enabled")
	}
	url, err := m.opts.Images.PutImage(ctx, image.Reader, image.Size, image.ContentType, image.Filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return url, nil
}

func (m *Manager) discardImage(ctx context.Context, url string) {
	if url == "" || m.opts.Images == nil {
		return
	}
	if err := m.opts.Images.Remove(ctx, url); err != nil {
		logger.FromContext(ctx).Warn("failed to remove image", "url", url, "error", err)
	}
}

func (m *Manager) invalidate(ctx context.Context, id int64) {
	if m.opts.Cache == nil {
		return
	}
	if err := m.opts.Cache.Invalidate(ctx, id); err != nil {
		logger.FromContext(ctx).Warn("cache invalidation failed", "portfolio_id", id, "error", err)
	}
}

// publish never fails the request; a lost event is repaired by the next
// periodic rebuild on the replicas.
func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.opts.Events == nil {
		return
	}
	ev.Origin = m.opts.Origin
	ev.OccurredAt = time.Now().UTC()
	if err := m.opts.Events.Publish(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("failed to publish portfolio event",
			"type", ev.Type,
			"portfolio_id", ev.PortfolioID,
			"error", err,
		)
	}
}

func (m *Manager) observe(op string, err error) {
	if m.opts.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opts.Metrics.PortfolioOpsTotal.WithLabelValues(op, status).Inc()
}

func fromRequest(req *Request) *Portfolio {
	ids := append([]int64{}, req.ProjectIDs...)
	return &Portfolio{
		Title:       req.Title,
		Category:    req.Category,
		Experience:  req.Experience,
		GithubURL:   req.GithubURL,
		BlogURL:     req.BlogURL,
		Description: req.Description,
		TechStack:   canonicalTechStack(req.TechStack),
		ProjectIDs:  ids,
	}
}

// canonicalTechStack stores the field the way the index reads it. A field
// with no keywords is stored as absent.
func canonicalTechStack(field *string) *string {
	if field == nil {
		return nil
	}
	c := techstack.Canonical(*field)
	if c == "" {
		return nil
	}
	return &c
}
