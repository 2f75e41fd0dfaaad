// Package http stores enriched log records in Elasticsearch over its REST API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// DefaultIndex is the index name used when none is configured.
const DefaultIndex = "dns-logs"

// maxErrorBody limits how much of a failed response is kept in the error.
const maxErrorBody = 512

// IndexerConfig holds the search cluster connection settings.
type IndexerConfig struct {
	// URL is the cluster base URL, e.g. http://localhost:9200
	URL string
	// Index is the target index name
	Index string
	// APIKey is sent as "Authorization: ApiKey <key>" when set
	APIKey string
}

// Indexer implements ports.Indexer using the Elasticsearch document API.
type Indexer struct {
	client ports.HTTPClient
	cfg    IndexerConfig
	logger log.Logger
}

// NewIndexer creates a new HTTP indexer.
func NewIndexer(client ports.HTTPClient, cfg IndexerConfig, logger log.Logger) *Indexer {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Indexer{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Index stores entry under its ID. Re-indexing the same ID overwrites the
// document, so redelivered messages keep one copy per parse.
func (i *Indexer) Index(ctx context.Context, entry domain.LogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/_doc/%s", i.cfg.URL, url.PathEscape(i.cfg.Index), url.PathEscape(entry.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	i.authorize(req)

	if err := i.do(req); err != nil {
		return err
	}
	i.logger.Debug("indexed record", log.String("id", entry.ID), log.String("index", i.cfg.Index))
	return nil
}

// Ping checks that the cluster answers.
func (i *Indexer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.URL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	i.authorize(req)
	return i.do(req)
}

func (i *Indexer) authorize(req *http.Request) {
	if i.cfg.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+i.cfg.APIKey)
	}
}

func (i *Indexer) do(req *http.Request) error {
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
