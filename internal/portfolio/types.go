// Package portfolio owns portfolio records: the request and event types, and
// the lifecycle manager that persists changes and drives the autocomplete
// index once they are durable.
package portfolio

import (
	"io"
	"time"
)

// Portfolio is a persisted portfolio together with its linked projects.
type Portfolio struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	Experience  string    `json:"experience,omitempty"`
	GithubURL   string    `json:"github_url,omitempty"`
	BlogURL     string    `json:"blog_url,omitempty"`
	Description string    `json:"description,omitempty"`
	TechStack   *string   `json:"tech_stack"`
	ImageURL    string    `json:"image_url,omitempty"`
	ProjectIDs  []int64   `json:"project_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Request is the JSON body of create and update calls. A nil ProjectIDs is
// rejected; an empty list is allowed.
type Request struct {
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Experience  string  `json:"experience"`
	GithubURL   string  `json:"github_url"`
	BlogURL     string  `json:"blog_url"`
	Description string  `json:"description"`
	TechStack   *string `json:"tech_stack"`
	ProjectIDs  []int64 `json:"project_ids"`
}

// Image is an uploaded portfolio image.
type Image struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Filename    string
}

// Project is the ownership view of a project that a portfolio may link.
type Project struct {
	ID          int64
	UserID      int64
	PortfolioID *int64
}

// EventType names a committed lifecycle change.
type EventType string

const (
	EventCreated EventType = "portfolio.created"
	EventUpdated EventType = "portfolio.updated"
	EventDeleted EventType = "portfolio.deleted"
)

// Event is published to Kafka after a lifecycle change commits. Replicas
// use it to keep their own autocomplete index in step.
type Event struct {
	Type              EventType `json:"type"`
	PortfolioID       int64     `json:"portfolio_id"`
	TechStack         *string   `json:"tech_stack"`
	PreviousTechStack *string   `json:"previous_tech_stack,omitempty"`
	Origin            string    `json:"origin"`
	OccurredAt        time.Time `json:"occurred_at"`
}
