// Package validator checks portfolio create and update requests and returns
// per-field error details.
package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/autocomplete/techstack"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
)

const (
	maxTitleLength     = 255
	maxTextLength      = 255
	maxDescription     = 5000
	maxTechStackLength = 1000
	maxKeywords        = 50
	maxKeywordLength   = 64
	maxProjects        = 100
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateRequest checks field lengths, URLs and the tech stack. The
// presence of the project list is a lifecycle rule and is checked there.
func ValidateRequest(req *portfolio.Request) error {
	errs := make(map[string]string)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs["title"] = "title is required"
	} else if len(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(req.Category) > maxTextLength {
		errs["category"] = fmt.Sprintf("category must be at most %d characters", maxTextLength)
	}
	if len(req.Experience) > maxTextLength {
		errs["experience"] = fmt.Sprintf("experience must be at most %d characters", maxTextLength)
	}
	if len(req.Description) > maxDescription {
		errs["description"] = fmt.Sprintf("description must be at most %d characters", maxDescription)
	}
	if msg := checkURL(req.GithubURL); msg != "" {
		errs["github_url"] = msg
	}
	if msg := checkURL(req.BlogURL); msg != "" {
		errs["blog_url"] = msg
	}
	if req.TechStack != nil {
		if msg := checkTechStack(*req.TechStack); msg != "" {
			errs["tech_stack"] = msg
		}
	}
	if len(req.ProjectIDs) > maxProjects {
		errs["project_ids"] = fmt.Sprintf("at most %d projects may be linked", maxProjects)
	} else {
		for _, id := range req.ProjectIDs {
			if id <= 0 {
				errs["project_ids"] = "project ids must be positive"
				break
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkURL(raw string) string {
	if raw == "" {
		return ""
	}
	if len(raw) > maxTextLength {
		return fmt.Sprintf("must be at most %d characters", maxTextLength)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "must be an absolute http(s) URL"
	}
	return ""
}

func checkTechStack(raw string) string {
	if len(raw) > maxTechStackLength {
		return fmt.Sprintf("tech stack must be at most %d characters", maxTechStackLength)
	}
	keywords := techstack.Split(raw)
	if len(keywords) > maxKeywords {
		return fmt.Sprintf("tech stack may list at most %d keywords", maxKeywords)
	}
	for _, kw := range keywords {
		if len(kw) > maxKeywordLength {
			return fmt.Sprintf("keyword %q exceeds %d characters", kw[:16]+"...", maxKeywordLength)
		}
	}
	return ""
}
