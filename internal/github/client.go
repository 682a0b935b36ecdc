// Package github implements the outbound GitHub REST API client.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

const (
	reposPerPage           = 100
	defaultTruncateLength  = 1000
	noReadmeFallback       = "No README found"
	rateLimitWarnThreshold = 10
)

// Config controls Client behavior.
type Config struct {
	Token             string
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestDelay      time.Duration
	ReadmeConcurrency int
	DefaultMaxRepos   int
}

// Client fetches profile and repository data from the GitHub REST API. It
// implements scrape.Scraper and observes ctx cancellation before each major
// step, which is the cooperative checkpoint the job manager relies on.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "profilehound/0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ReadmeConcurrency <= 0 {
		cfg.ReadmeConcurrency = 10
	}
	if cfg.DefaultMaxRepos <= 0 {
		cfg.DefaultMaxRepos = 100
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// repoPayload mirrors the GitHub repository JSON shape.
type repoPayload struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	HTMLURL       string `json:"html_url"`
	Stars         int    `json:"stargazers_count"`
	Forks         int    `json:"forks_count"`
	Watchers      int    `json:"watchers_count"`
	Language      string `json:"language"`
	OpenIssues    int    `json:"open_issues_count"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	Size          int    `json:"size"`
	DefaultBranch string `json:"default_branch"`
	Fork          bool   `json:"fork"`
}

func (p repoPayload) toRepository() scrape.Repository {
	branch := p.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	return scrape.Repository{
		Name:          p.Name,
		Description:   p.Description,
		HTMLURL:       p.HTMLURL,
		Stars:         p.Stars,
		Forks:         p.Forks,
		Watchers:      p.Watchers,
		Language:      p.Language,
		OpenIssues:    p.OpenIssues,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		SizeKB:        p.Size,
		DefaultBranch: branch,
		IsFork:        p.Fork,
	}
}

// Profile fetches the public profile for username.
func (c *Client) Profile(ctx context.Context, username, token string) (*scrape.Profile, error) {
	var profile scrape.Profile
	url := fmt.Sprintf("%s/users/%s", c.cfg.BaseURL, username)
	if err := c.getJSON(ctx, url, token, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Repositories fetches up to maxRepos public repositories for username,
// newest-updated first, paging through the API with a polite delay.
func (c *Client) Repositories(ctx context.Context, username string, maxRepos int, token string) ([]scrape.Repository, error) {
	if maxRepos <= 0 {
		maxRepos = c.cfg.DefaultMaxRepos
	}
	var repos []scrape.Repository
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("repository listing interrupted: %w", err)
		}
		url := fmt.Sprintf("%s/users/%s/repos?page=%d&per_page=%d&sort=updated", c.cfg.BaseURL, username, page, reposPerPage)
		var pagePayload []repoPayload
		if err := c.getJSON(ctx, url, token, &pagePayload); err != nil {
			return nil, err
		}
		for _, p := range pagePayload {
			repos = append(repos, p.toRepository())
		}
		if len(repos) >= maxRepos {
			repos = repos[:maxRepos]
			break
		}
		if len(pagePayload) < reposPerPage {
			break
		}
		if c.cfg.RequestDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("repository listing interrupted: %w", ctx.Err())
			case <-time.After(c.cfg.RequestDelay):
			}
		}
	}
	return repos, nil
}

// Readme fetches and decodes a repository README. A missing README is not an
// error; the fallback text is returned instead.
func (c *Client) Readme(ctx context.Context, username, repo, token string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/readme", c.cfg.BaseURL, username, repo)
	var payload struct {
		Content string `json:"content"`
	}
	if err := c.getJSON(ctx, url, token, &payload); err != nil {
		if errors.Is(err, scrape.ErrUserNotFound) {
			return noReadmeFallback, nil
		}
		return "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(trimNewlines(payload.Content))
	if err != nil {
		return "", fmt.Errorf("decode readme: %w", err)
	}
	return string(decoded), nil
}

// Scrape runs the complete profile + repositories + README pipeline, making
// it the single external scrape operation a job invokes.
func (c *Client) Scrape(ctx context.Context, username string, opts scrape.Options, report func(int)) (*scrape.Result, error) {
	progress := func(p int) {
		if report != nil {
			report(p)
		}
	}
	progress(5)

	profile, err := c.Profile(ctx, username, opts.Token)
	if err != nil {
		return nil, err
	}
	progress(15)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape interrupted: %w", err)
	}
	repos, err := c.Repositories(ctx, username, opts.MaxRepos, opts.Token)
	if err != nil {
		return nil, err
	}
	progress(40)

	if opts.IncludeReadme {
		if err := c.attachReadmes(ctx, username, repos, opts, progress); err != nil {
			return nil, err
		}
	}
	progress(95)

	result := &scrape.Result{
		Username:     username,
		Profile:      profile,
		Repositories: repos,
		TopLanguages: map[string]int{},
	}
	for _, repo := range repos {
		result.TotalStars += repo.Stars
		result.TotalForks += repo.Forks
		if repo.Language != "" {
			result.TopLanguages[repo.Language]++
		}
	}
	return result, nil
}

// attachReadmes fetches READMEs with bounded concurrency and fills them into
// repos in place. The first hard error wins; individual missing READMEs are
// tolerated.
func (c *Client) attachReadmes(ctx context.Context, username string, repos []scrape.Repository, opts scrape.Options, progress func(int)) error {
	truncateAt := opts.TruncateLength
	if truncateAt <= 0 {
		truncateAt = defaultTruncateLength
	}

	sem := make(chan struct{}, c.cfg.ReadmeConcurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	for i := range repos {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("readme fetch interrupted: %w", err)
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			readme, err := c.Readme(ctx, username, repos[idx].Name, opts.Token)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil && ctx.Err() == nil {
					firstErr = err
				}
				return
			}
			if opts.TruncateReadme && len(readme) > truncateAt {
				readme = readme[:truncateAt] + "..."
			}
			repos[idx].Readme = readme
			done++
			// READMEs span the 40-90% band of the overall pipeline.
			progress(40 + done*50/len(repos))
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("readme fetch interrupted: %w", err)
	}
	return firstErr
}

func (c *Client) getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token == "" {
		token = c.cfg.Token
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body failed", zap.Error(closeErr))
		}
	}()

	c.warnOnLowRateLimit(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode github response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, scrape.ErrUserNotFound)
	case http.StatusForbidden:
		return errors.New("github rate limit exceeded or access forbidden")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github responded %d: %s", resp.StatusCode, string(body))
	}
}

func (c *Client) warnOnLowRateLimit(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	if n, err := strconv.Atoi(remaining); err == nil && n < rateLimitWarnThreshold {
		c.logger.Warn("github rate limit nearly exhausted", zap.Int("remaining", n))
	}
}

func trimNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
