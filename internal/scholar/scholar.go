// Package scholar checks that an expert name matches a published author.
package scholar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://api.semanticscholar.org"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the Semantic Scholar author search.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewClient(conf Config, logger *zap.Logger) *Client {
	if conf.BaseURL == "" {
		conf.BaseURL = DefaultBaseURL
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		apiKey:  conf.APIKey,
		timeout: conf.Timeout,
		logger:  logger,
	}
}

type authorSearch struct {
	Data []struct {
		AuthorID   string `json:"authorId"`
		Name       string `json:"name"`
		PaperCount *int   `json:"paperCount"`
	} `json:"data"`
}

// PaperCount returns the publication count of the best matching author.
// A non-200 reply or a missing count yields 0 without error; only transport
// failures are returned.
//
// The fasthttp agent has no context support: a deadline on ctx shortens the
// request timeout, but a plain cancel only takes effect before the request
// is sent.
func (c *Client) PaperCount(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		timeout = min(timeout, left)
	}
	q := url.Values{}
	q.Set("query", name)
	q.Set("fields", "paperCount")
	q.Set("limit", "1")

	agent := fiber.Get(c.baseURL + "/graph/v1/author/search?" + q.Encode())
	agent.Timeout(timeout)
	if c.apiKey != "" {
		agent.Set("x-api-key", c.apiKey)
	}

	var res authorSearch
	code, _, errs := agent.Struct(&res)
	if code != http.StatusOK {
		if len(errs) > 0 && code == 0 {
			return 0, fmt.Errorf("author search %q: %w", name, errs[0])
		}
		c.logger.Warn("author search returned non-200", zap.String("name", name), zap.Int("status", code))
		return 0, nil
	}
	if len(errs) > 0 {
		c.logger.Warn("author search decode failed", zap.String("name", name), zap.Error(errs[0]))
		return 0, nil
	}
	if len(res.Data) == 0 || res.Data[0].PaperCount == nil {
		return 0, nil
	}
	return *res.Data[0].PaperCount, nil
}

// ExpertCount is the lookup result for one name.
type ExpertCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Result is the outcome of validating an expert pair.
type Result struct {
	Experts [2]ExpertCount `json:"experts"`
}

// Valid reports whether both experts have at least one paper.
func (r Result) Valid() bool {
	return r.Experts[0].Count > 0 && r.Experts[1].Count > 0
}

// Rejected lists the names with no publications.
func (r Result) Rejected() []string {
	var out []string
	for _, e := range r.Experts {
		if e.Count <= 0 {
			out = append(out, e.Name)
		}
	}
	return out
}

// Details maps each name to its count.
func (r Result) Details() map[string]int {
	return map[string]int{
		r.Experts[0].Name: r.Experts[0].Count,
		r.Experts[1].Name: r.Experts[1].Count,
	}
}

// Validate looks both names up concurrently. Lookup failures count as zero so
// a broken search never unlocks a conversation.
func (c *Client) Validate(ctx context.Context, expertA, expertB string) (Result, error) {
	res := Result{Experts: [2]ExpertCount{{Name: expertA}, {Name: expertB}}}

	g, gctx := errgroup.WithContext(ctx)
	for i := range res.Experts {
		g.Go(func() error {
			n, err := c.PaperCount(gctx, res.Experts[i].Name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("author lookup failed", zap.String("name", res.Experts[i].Name), zap.Error(err))
				n = 0
			}
			res.Experts[i].Count = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	c.logger.Info("experts validated",
		zap.String("expert_a", expertA), zap.Int("count_a", res.Experts[0].Count),
		zap.String("expert_b", expertB), zap.Int("count_b", res.Experts[1].Count))
	return res, nil
}
