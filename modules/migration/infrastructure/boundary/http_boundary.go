// Package boundary implements the write-boundary contract over the target
// application's HTTP API. The engine never touches target-entity storage
// directly; every mutation goes through here.
package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/forgeworks/cutover/modules/migration/domain/plan"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/detect"
	"github.com/forgeworks/cutover/modules/migration/services"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type mutatePayload struct {
	ActionType      string         `json:"action_type"`
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id,omitempty"`
	Input           map[string]any `json:"input"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

type mutateResponse struct {
	EntityID string `json:"entity_id"`
}

type candidateRow struct {
	EntityID string            `json:"entity_id"`
	Fields   map[string]string `json:"fields"`
}

// HTTPBoundary talks to the target API:
//
//	POST /api/migration/mutate      — create/update/merge one entity
//	GET  /api/migration/entities/…  — raw row for snapshotting
//	POST /api/migration/candidates  — candidate rows for conflict detection
type HTTPBoundary struct {
	baseURL       *url.URL
	authorization string
	httpClient    *http.Client
}

var _ services.WriteBoundary = (*HTTPBoundary)(nil)

func NewHTTPBoundary(baseURL, authorization string) (*HTTPBoundary, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, gerrors.Errorf("invalid base url %q", baseURL)
	}
	return &HTTPBoundary{
		baseURL:       u,
		authorization: strings.TrimSpace(authorization),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (b *HTTPBoundary) Mutate(ctx context.Context, req services.MutateRequest) (services.MutateResult, error) {
	payload := mutatePayload{
		ActionType:      string(req.ActionType),
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Input:           req.Input,
		IdempotencyKey:  req.IdempotencyKey,
		ExpectedVersion: req.ExpectedVersion,
	}

	var out mutateResponse
	status, apiErr, err := b.doJSON(ctx, http.MethodPost, "/api/migration/mutate", nil, payload, &out)
	if err != nil {
		return services.MutateResult{}, err
	}
	if status == http.StatusNotFound {
		return services.MutateResult{}, gerrors.Errorf("mutate endpoint not found (status=%d)", status)
	}
	if apiErr != nil {
		// Error codes pass through verbatim; the loader classifies them as
		// transient or permanent.
		return services.MutateResult{
			Status:       services.MutateError,
			ErrorCode:    apiErr.Code,
			ErrorMessage: apiErr.Message,
		}, nil
	}
	return services.MutateResult{Status: services.MutateOK, EntityID: out.EntityID}, nil
}

func (b *HTTPBoundary) ReadRawRow(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, nil
	}
	path := fmt.Sprintf("/api/migration/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))

	var raw json.RawMessage
	status, apiErr, err := b.doJSON(ctx, http.MethodGet, path, nil, nil, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if apiErr != nil {
		return nil, gerrors.Errorf("read raw row: %s (%s)", apiErr.Message, apiErr.Code)
	}
	return raw, nil
}

// FetchCandidates satisfies detect.CandidateFetcher.
func (b *HTTPBoundary) FetchCandidates(ctx context.Context, entityType string, records []plan.TransformedRecord) ([]detect.Candidate, error) {
	payload := struct {
		EntityType string           `json:"entity_type"`
		Records    []map[string]any `json:"records"`
	}{EntityType: entityType}
	for _, rec := range records {
		payload.Records = append(payload.Records, rec.Data)
	}

	var out struct {
		Candidates []candidateRow `json:"candidates"`
	}
	_, apiErr, err := b.doJSON(ctx, http.MethodPost, "/api/migration/candidates", nil, payload, &out)
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return nil, gerrors.Errorf("fetch candidates: %s (%s)", apiErr.Message, apiErr.Code)
	}

	candidates := make([]detect.Candidate, 0, len(out.Candidates))
	for _, row := range out.Candidates {
		candidates = append(candidates, detect.Candidate{EntityID: row.EntityID, Fields: row.Fields})
	}
	return candidates, nil
}

func (b *HTTPBoundary) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, out any) (int, *apiError, error) {
	u := *b.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, gerrors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, nil, gerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if b.authorization != "" {
		req.Header.Set("Authorization", b.authorization)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, gerrors.Wrap(err, "http do")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, gerrors.Wrap(err, "http read")
	}

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if jErr := json.Unmarshal(respBody, &apiErr); jErr == nil && strings.TrimSpace(apiErr.Code) != "" {
			return resp.StatusCode, &apiErr, nil
		}
		return resp.StatusCode, nil, gerrors.Errorf("http status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return resp.StatusCode, nil, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, nil, gerrors.Wrap(err, "unmarshal response")
	}
	return resp.StatusCode, nil, nil
}
