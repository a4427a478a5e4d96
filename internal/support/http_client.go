package support

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-case-sync/internal/domain"
)

// HTTPClient implements Client against the ticketing system's REST surface.
// It carries no retry logic and treats any transport or non-2xx outcome as a
// typed error for the caller to classify.
type HTTPClient struct {
	// BaseURL is the ticketing API root, without trailing slash.
	BaseURL string
	// Creds resolves credential references before every call.
	Creds CredentialSource
	// HTTP is the underlying client; a zero value uses http.DefaultClient.
	HTTP *http.Client
	// Log receives per-call structured logs.
	Log zerolog.Logger
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// describeRequest mirrors the wire shape of the describe endpoint.
type describeRequest struct {
	CaseIDList            []string `json:"caseIdList"`
	IncludeCommunications bool     `json:"includeCommunications"`
	IncludeResolvedCases  bool     `json:"includeResolvedCases"`
}

type describeResponse struct {
	Cases []struct {
		CaseID               string `json:"caseId"`
		DisplayID            string `json:"displayId"`
		Status               string `json:"status"`
		RecentCommunications struct {
			Communications []Communication `json:"communications"`
		} `json:"recentCommunications"`
	} `json:"cases"`
}

// Describe implements Client.
func (c *HTTPClient) Describe(ctx context.Context, credentialRef, caseID string, opts DescribeOptions) (*CaseDetail, error) {
	req := describeRequest{
		CaseIDList:            []string{caseID},
		IncludeCommunications: opts.IncludeCommunications,
		IncludeResolvedCases:  opts.IncludeResolved,
	}
	var resp describeResponse
	if err := c.call(ctx, credentialRef, "describe", "/cases/describe", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Cases) == 0 {
		return nil, ErrCaseNotFound
	}
	rc := resp.Cases[0]
	detail := &CaseDetail{
		CaseID:         rc.CaseID,
		DisplayID:      rc.DisplayID,
		Status:         statusFromWire(rc.Status),
		Communications: rc.RecentCommunications.Communications,
	}
	return detail, nil
}

// CreateCase implements Client.
func (c *HTTPClient) CreateCase(ctx context.Context, credentialRef string, in CreateInput) (*CreateResult, error) {
	var out CreateResult
	if err := c.call(ctx, credentialRef, "create", "/cases", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCommunication implements Client.
func (c *HTTPClient) AddCommunication(ctx context.Context, credentialRef, caseID, body, attachmentSetID string) error {
	req := map[string]string{
		"caseId": caseID,
		"body":   body,
	}
	if attachmentSetID != "" {
		req["attachmentSetId"] = attachmentSetID
	}
	return c.call(ctx, credentialRef, "add-communication", "/cases/communications", req, nil)
}

// AddAttachment implements Client.
func (c *HTTPClient) AddAttachment(ctx context.Context, credentialRef string, data []byte, fileName string) (string, error) {
	req := map[string]string{
		"fileName": fileName,
		"data":     base64.StdEncoding.EncodeToString(data),
	}
	var out struct {
		AttachmentSetID string `json:"attachmentSetId"`
	}
	if err := c.call(ctx, credentialRef, "add-attachment", "/attachments", req, &out); err != nil {
		return "", err
	}
	return out.AttachmentSetID, nil
}

// call resolves the credential, POSTs payload to path, and decodes the JSON
// response into out (when non-nil).
func (c *HTTPClient) call(ctx context.Context, credentialRef, op, path string, payload, out any) error {
	if strings.TrimSpace(credentialRef) == "" {
		return ErrNoCredential
	}
	cred, err := c.Creds.Resolve(ctx, credentialRef)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &RemoteError{Op: op, Code: resp.StatusCode, Err: err}
	}

	c.Log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("ticket api call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCaseNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &RemoteError{Op: op, Code: resp.StatusCode, Err: fmt.Errorf("%s", truncateBody(raw))}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &RemoteError{Op: op, Code: resp.StatusCode, Err: err}
		}
	}
	return nil
}

// statusFromWire normalizes the remote status string. Unknown values are
// carried through verbatim; the status machine treats them as active.
func statusFromWire(s string) domain.CaseStatus {
	return domain.CaseStatus(strings.TrimSpace(strings.ToLower(s)))
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
