// Package cds is a client for the Copernicus Climate Data Store retrieve
// API. A retrieval submits a job, polls it until the archive has produced
// the file and streams the result.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
)

// Job states reported by the archive.
const (
	statusAccepted   = "accepted"
	statusRunning    = "running"
	statusSuccessful = "successful"
	statusFailed     = "failed"
	statusRejected   = "rejected"
	statusDismissed  = "dismissed"
)

// Options configures a Client.
type Options struct {
	Credentials  Credentials
	Timeout      time.Duration // per HTTP call, not per job
	PollInterval time.Duration
	Backoff      BackoffConfig
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Client retrieves files from the Climate Data Store.
type Client struct {
	baseURL      string
	key          string
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewClient creates a retrieve API client.
func NewClient(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Backoff.InitialInterval <= 0 {
		opts.Backoff.InitialInterval = time.Second
	}
	baseURL := opts.Credentials.URL
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     opts.Credentials.Key,
		httpCfg: HTTPClientConfig{
			Client:  &http.Client{Timeout: opts.Timeout},
			Backoff: opts.Backoff,
		},
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cds",
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		pollInterval: opts.PollInterval,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// Retrieve runs one job on dataset and streams the produced file into w.
func (c *Client) Retrieve(ctx context.Context, dataset string, req Request, w io.Writer) error {
	kind := "forecast"
	if dataset == DatasetReanalysis {
		kind = "reanalysis"
	}
	elapsed := domain.StartTimer(c.clock)
	err := c.retrieve(ctx, dataset, req, w)
	c.metrics.ArchiveRequestDuration.WithLabelValues(kind).Observe(elapsed().Seconds())
	if err != nil {
		c.metrics.ArchiveRequests.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("retrieve %s: %w", req.Key(), err)
	}
	c.metrics.ArchiveRequests.WithLabelValues(kind, "success").Inc()
	return nil
}

func (c *Client) retrieve(ctx context.Context, dataset string, req Request, w io.Writer) error {
	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID, "dataset", dataset, "key", req.Key())

	jobID, err := c.submit(ctx, dataset, req, requestID)
	if err != nil {
		return err
	}
	logger.Debug("job submitted", "job_id", jobID)

	if err := c.wait(ctx, jobID, logger); err != nil {
		return err
	}
	href, err := c.resultHref(ctx, jobID)
	if err != nil {
		return err
	}
	n, err := c.download(ctx, href, w)
	if err != nil {
		return err
	}
	logger.Info("job downloaded", "job_id", jobID, "bytes", n)
	return nil
}

type jobStatus struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type jobResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
		} `json:"value"`
	} `json:"asset"`
}

func (c *Client) submit(ctx context.Context, dataset string, req Request, requestID string) (string, error) {
	body, err := json.Marshal(struct {
		Inputs Request `json:"inputs"`
	}{req})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	u := fmt.Sprintf("%s/retrieve/v1/processes/%s/execution", c.baseURL, url.PathEscape(dataset))

	var st jobStatus
	err = c.doJSON(ctx, func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-Request-Id", requestID)
		return r, nil
	}, &st)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if st.JobID == "" {
		return "", fmt.Errorf("submit job: response carries no job id")
	}
	return st.JobID, nil
}

// wait polls the job until it reaches a terminal state. The first poll
// happens immediately.
func (c *Client) wait(ctx context.Context, jobID string, logger *slog.Logger) error {
	u := fmt.Sprintf("%s/retrieve/v1/jobs/%s", c.baseURL, url.PathEscape(jobID))
	last := ""
	for {
		var st jobStatus
		err := c.doJSON(ctx, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, u, nil)
		}, &st)
		if err != nil {
			return fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if st.Status != last {
			logger.Debug("job status", "job_id", jobID, "status", st.Status)
			last = st.Status
		}

		switch st.Status {
		case statusSuccessful:
			return nil
		case statusFailed, statusRejected, statusDismissed:
			if st.Detail != "" {
				return fmt.Errorf("job %s %s: %s", jobID, st.Status, st.Detail)
			}
			return fmt.Errorf("job %s %s", jobID, st.Status)
		case statusAccepted, statusRunning, "":
		default:
			logger.Warn("unknown job status", "job_id", jobID, "status", st.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}
	}
}

func (c *Client) resultHref(ctx context.Context, jobID string) (string, error) {
	u := fmt.Sprintf("%s/retrieve/v1/jobs/%s/results", c.baseURL, url.PathEscape(jobID))
	var res jobResults
	err := c.doJSON(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	}, &res)
	if err != nil {
		return "", fmt.Errorf("job %s results: %w", jobID, err)
	}
	href := res.Asset.Value.Href
	if href == "" {
		return "", fmt.Errorf("job %s results: no asset href", jobID)
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("job %s results: bad href %q: %w", jobID, href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) download(ctx context.Context, href string, w io.Writer) (int64, error) {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, c.clock, func() (*http.Request, error) {
		return c.authorize(http.NewRequest(http.MethodGet, href, nil))
	})
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download: %w", err)
	}
	return n, nil
}

func (c *Client) doJSON(ctx context.Context, build func() (*http.Request, error), out any) error {
	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, c.clock, func() (*http.Request, error) {
		return c.authorize(build())
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(r *http.Request, err error) (*http.Request, error) {
	if err != nil {
		return nil, err
	}
	r.Header.Set("PRIVATE-TOKEN", c.key)
	r.Header.Set("User-Agent", "nao-forecast-etl")
	return r, nil
}
