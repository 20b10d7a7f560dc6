// Package sink delivers entity updates to the outside world.
package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bilal/lattice-bridge/internal/entity"
)

const entitiesPath = "/api/v1/entities"

// LatticeConfig locates the entities API and carries its credentials.
type LatticeConfig struct {
	Endpoint           string // host[:port], or a full base URL
	EnvironmentToken   string
	SandboxesToken     string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Lattice publishes one update per HTTP request. It does not retry: the
// next tick's update supersedes a failed one.
type Lattice struct {
	url         string
	client      *http.Client
	token       string
	sandboxAuth string
}

func NewLattice(cfg LatticeConfig) *Lattice {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		},
	}

	base := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	l := &Lattice{
		url:    base + entitiesPath,
		client: client,
		token:  cfg.EnvironmentToken,
	}
	if cfg.SandboxesToken != "" {
		l.sandboxAuth = "Bearer " + cfg.SandboxesToken
	}
	return l
}

func (l *Lattice) Publish(ctx context.Context, u entity.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	correlation := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlation)
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
	if l.sandboxAuth != "" {
		req.Header.Set("anduril-sandbox-authorization", l.sandboxAuth)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bad status: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().Str("correlation", correlation).Int("status", resp.StatusCode).Msg("entity accepted")
	return nil
}

func (l *Lattice) Close() error {
	l.client.CloseIdleConnections()
	return nil
}
