// Package ha provides the Home Assistant REST client used by the agent
// engine. It exposes exactly three operations: list entities by domain,
// fetch entity details, and call a domain service.
package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Entity is the compact entity representation returned by ListEntities.
type Entity struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

// Detail is the full state record returned by GetDetails.
type Detail struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	Domain     string         `json:"domain"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Backend is the home-automation collaborator consumed by the agent engine.
// The production implementation is Client; tests substitute stubs.
type Backend interface {
	// ListEntities returns entities for a domain. Empty domain means all domains.
	ListEntities(ctx context.Context, domain string) ([]Entity, error)

	// GetDetails returns full state details for the given entity ids, in input
	// order. Unknown ids are silently omitted.
	GetDetails(ctx context.Context, entityIDs []string) ([]Detail, error)

	// CallService invokes domain/service on an entity. Side-effecting; a
	// failure is returned, never swallowed.
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error
}

const (
	// When GetDetails is asked for at least this many entities, fetch all
	// states in one request and filter locally instead of issuing per-entity
	// requests.
	bulkDetailThreshold = 15

	defaultRequestTimeout = 10 * time.Second
)

// Client talks to a Home Assistant instance over its REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given instance URL and long-lived
// access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

type stateRecord struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (s *stateRecord) friendlyName() string {
	if v, ok := s.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return s.EntityID
}

// ListEntities returns entities in compact form.
//
// Behavior:
//   - Empty domain: all entities from all domains, sorted by name.
//   - Non-empty domain: entities of the requested domain plus all switch
//     entities (duplicates removed), requested domain first, then switch,
//     each group sorted by name.
func (c *Client) ListEntities(ctx context.Context, domain string) ([]Entity, error) {
	states, err := c.fetchStates(ctx)
	if err != nil {
		return nil, err
	}

	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	var wantedPrefixes []string
	if d != "" {
		wantedPrefixes = []string{d + ".", "switch."}
	}

	seen := make(map[string]bool)
	results := make([]Entity, 0, len(states))
	for _, s := range states {
		if s.EntityID == "" || seen[s.EntityID] {
			continue
		}
		if wantedPrefixes != nil {
			match := false
			for _, p := range wantedPrefixes {
				if strings.HasPrefix(s.EntityID, p) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		seen[s.EntityID] = true
		results = append(results, Entity{EntityID: s.EntityID, Name: s.friendlyName()})
	}

	if wantedPrefixes != nil {
		rank := func(e Entity) int {
			if strings.HasPrefix(e.EntityID, d+".") {
				return 0
			}
			if strings.HasPrefix(e.EntityID, "switch.") {
				return 1
			}
			return 2
		}
		sort.SliceStable(results, func(i, j int) bool {
			ri, rj := rank(results[i]), rank(results[j])
			if ri != rj {
				return ri < rj
			}
			return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
		})
	} else {
		sort.SliceStable(results, func(i, j int) bool {
			return strings.ToLower(results[i].Name) < strings.ToLower(results[j].Name)
		})
	}

	return results, nil
}

// GetDetails fetches full state details for entity ids. Blank ids and
// duplicates are dropped (first occurrence wins); output preserves input
// order and silently omits entities the instance does not know.
func (c *Client) GetDetails(ctx context.Context, entityIDs []string) ([]Detail, error) {
	wanted := make([]string, 0, len(entityIDs))
	seen := make(map[string]bool)
	for _, id := range entityIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return []Detail{}, nil
	}

	if len(wanted) >= bulkDetailThreshold {
		return c.bulkDetails(ctx, wanted)
	}

	results := make([]Detail, 0, len(wanted))
	for _, id := range wanted {
		var s stateRecord
		err := c.getJSON(ctx, "/api/states/"+id, &s)
		if err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}
			// Individual lookup errors are skipped; the caller still gets
			// whatever was found, matching the all-or-some contract.
			slog.Warn("ha: entity detail fetch failed", "entity_id", id, "error", err)
			continue
		}
		results = append(results, packDetail(&s))
	}
	return results, nil
}

func (c *Client) bulkDetails(ctx context.Context, wanted []string) ([]Detail, error) {
	states, err := c.fetchStates(ctx)
	if err != nil {
		return nil, err
	}
	found := make(map[string]Detail, len(wanted))
	wantedSet := make(map[string]bool, len(wanted))
	for _, id := range wanted {
		wantedSet[id] = true
	}
	for _, s := range states {
		if wantedSet[s.EntityID] {
			found[s.EntityID] = packDetail(&s)
		}
	}
	results := make([]Detail, 0, len(wanted))
	for _, id := range wanted {
		if d, ok := found[id]; ok {
			results = append(results, d)
		}
	}
	return results, nil
}

// CallService posts to /api/services/{domain}/{service} with the entity id
// and any extra service data in the payload.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if entityID != "" {
		payload["entity_id"] = entityID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal service payload")
	}

	url := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build service request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call service %s.%s", domain, service)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error body
		return errors.Errorf("call service %s.%s: status %d: %s", domain, service, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

var errNotFound = errors.New("entity not found")

func (c *Client) fetchStates(ctx context.Context) ([]stateRecord, error) {
	var states []stateRecord
	if err := c.getJSON(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func packDetail(s *stateRecord) Detail {
	domain := ""
	if i := strings.IndexByte(s.EntityID, '.'); i > 0 {
		domain = s.EntityID[:i]
	}
	return Detail{
		EntityID:   s.EntityID,
		Name:       s.friendlyName(),
		Domain:     domain,
		State:      s.State,
		Attributes: s.Attributes,
	}
}
