// Package civicapi is a minimal client for the CIViC GraphQL API, covering
// accepted evidence pagination and molecular profile component lookup.
package civicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alkfred/alkfred/internal/civic"
)

const (
	defaultBaseURL  = "https://civicdb.org/api/graphql"
	defaultPageSize = 100
)

// Client fetches evidence and profile metadata from CIViC.
type Client interface {
	// EvidenceItems pages through all accepted evidence items, optionally
	// restricted to profiles mentioning geneSymbol.
	EvidenceItems(ctx context.Context, geneSymbol string) ([]civic.Evidence, error)
	// MolecularProfileComponents resolves a profile name to its variant
	// components, including canonical allele registry IDs where curated.
	MolecularProfileComponents(ctx context.Context, profileName string) ([]civic.Component, error)
}

// Option configures the client.
type Option func(*graphqlClient)

// WithBaseURL overrides the default GraphQL endpoint.
func WithBaseURL(url string) Option {
	return func(c *graphqlClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *graphqlClient) {
		c.http = hc
	}
}

// WithPageSize overrides the evidence page size.
func WithPageSize(n int) Option {
	return func(c *graphqlClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit overrides the default request rate limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *graphqlClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxRetries overrides the retry budget for 429/5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *graphqlClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

type graphqlClient struct {
	baseURL    string
	pageSize   int
	maxRetries int
	limiter    *rate.Limiter
	http       *http.Client
	log        *zap.Logger
}

// NewClient creates a CIViC GraphQL client.
func NewClient(opts ...Option) Client {
	c := &graphqlClient{
		baseURL:    defaultBaseURL,
		pageSize:   defaultPageSize,
		maxRetries: 3,
		limiter:    rate.NewLimiter(5, 5),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: zap.L().With(zap.String("component", "civicapi")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

const evidenceQuery = `
query EvidenceItems($after: String, $first: Int!) {
  evidenceItems(status: ACCEPTED, first: $first, after: $after) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      id
      status
      significance
      evidenceDirection
      evidenceType
      evidenceLevel
      evidenceRating
      description
      molecularProfile {
        id
        name
      }
      therapies {
        name
        ncitId
      }
      disease {
        doid
        name
        diseaseAliases
      }
      source {
        citationId
        publicationYear
      }
    }
  }
}`

const profileQuery = `
query ProfileComponents($name: String!) {
  molecularProfiles(name: $name, first: 1) {
    nodes {
      name
      variants {
        name
        alleleRegistryId
        feature {
          name
        }
      }
    }
  }
}`

// GraphQL wire shapes. CIViC uses camelCase field names; these are converted
// to the pipeline's canonical types before returning.
type evidenceNode struct {
	ID           int    `json:"id"`
	Status       string `json:"status"`
	Significance string `json:"significance"`
	Direction    string `json:"evidenceDirection"`
	Type         string `json:"evidenceType"`
	Level        string `json:"evidenceLevel"`
	Rating       *int   `json:"evidenceRating"`
	Description  string `json:"description"`
	Profile      struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"molecularProfile"`
	Therapies []struct {
		Name   string `json:"name"`
		NcitID string `json:"ncitId"`
	} `json:"therapies"`
	Disease *struct {
		DOID    string   `json:"doid"`
		Name    string   `json:"name"`
		Aliases []string `json:"diseaseAliases"`
	} `json:"disease"`
	Source *struct {
		CitationID      string `json:"citationId"`
		PublicationYear int    `json:"publicationYear"`
	} `json:"source"`
}

type evidencePage struct {
	EvidenceItems struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []evidenceNode `json:"nodes"`
	} `json:"evidenceItems"`
}

type profilePage struct {
	MolecularProfiles struct {
		Nodes []struct {
			Name     string `json:"name"`
			Variants []struct {
				Name             string `json:"name"`
				AlleleRegistryID string `json:"alleleRegistryId"`
				Feature          *struct {
					Name string `json:"name"`
				} `json:"feature"`
			} `json:"variants"`
		} `json:"nodes"`
	} `json:"molecularProfiles"`
}

func (c *graphqlClient) EvidenceItems(ctx context.Context, geneSymbol string) ([]civic.Evidence, error) {
	var (
		records []civic.Evidence
		cursor  *string
		pages   int
	)

	for {
		vars := map[string]any{"first": c.pageSize}
		if cursor != nil {
			vars["after"] = *cursor
		}

		var page evidencePage
		if err := c.query(ctx, evidenceQuery, vars, &page); err != nil {
			return nil, eris.Wrapf(err, "civicapi: evidence page %d", pages+1)
		}
		pages++

		for _, node := range page.EvidenceItems.Nodes {
			if geneSymbol != "" && !civic.GeneInProfile(node.Profile.Name, geneSymbol) {
				continue
			}
			records = append(records, node.toEvidence())
		}

		info := page.EvidenceItems.PageInfo
		if !info.HasNextPage {
			break
		}
		cursor = &info.EndCursor
	}

	c.log.Info("evidence fetch complete",
		zap.Int("pages", pages),
		zap.Int("records", len(records)))
	return records, nil
}

func (c *graphqlClient) MolecularProfileComponents(ctx context.Context, profileName string) ([]civic.Component, error) {
	var page profilePage
	vars := map[string]any{"name": profileName}
	if err := c.query(ctx, profileQuery, vars, &page); err != nil {
		return nil, eris.Wrapf(err, "civicapi: profile components for %q", profileName)
	}

	var comps []civic.Component
	for _, node := range page.MolecularProfiles.Nodes {
		for _, v := range node.Variants {
			label := v.Name
			if v.Feature != nil && v.Feature.Name != "" && !strings.Contains(label, v.Feature.Name) {
				label = v.Feature.Name + " " + label
			}
			comps = append(comps, civic.Component{Variant: label, CAID: v.AlleleRegistryID})
		}
	}
	return comps, nil
}

func (n *evidenceNode) toEvidence() civic.Evidence {
	ev := civic.Evidence{
		ID:           n.ID,
		Status:       n.Status,
		Significance: n.Significance,
		Direction:    n.Direction,
		Type:         n.Type,
		Level:        n.Level,
		Rating:       n.Rating,
		Description:  n.Description,
		Profile:      civic.Profile{ID: n.Profile.ID, Name: n.Profile.Name},
	}
	for _, t := range n.Therapies {
		ev.Therapies = append(ev.Therapies, civic.Therapy{Name: t.Name, NcitID: t.NcitID})
	}
	if n.Disease != nil {
		ev.Disease = civic.Disease{DOID: n.Disease.DOID, Name: n.Disease.Name, Aliases: n.Disease.Aliases}
	}
	if n.Source != nil {
		ev.Source = &civic.Source{CitationID: n.Source.CitationID, PublicationYear: n.Source.PublicationYear}
	}
	return ev
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query posts one GraphQL request, retrying on 429 and 5xx with exponential
// backoff, and unmarshals the data payload into out.
func (c *graphqlClient) query(ctx context.Context, q string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: q, Variables: vars})
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("graphql request failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(err))
			c.backoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, c.baseURL)
			c.log.Warn("graphql server busy, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			c.backoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []graphqlError  `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
		if len(envelope.Errors) > 0 {
			msgs := make([]string, len(envelope.Errors))
			for i, e := range envelope.Errors {
				msgs[i] = e.Message
			}
			return eris.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
		}

		return eris.Wrap(json.Unmarshal(envelope.Data, out), "unmarshal data")
	}

	return eris.Wrap(lastErr, "all retries exhausted")
}

func (c *graphqlClient) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int63n(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
