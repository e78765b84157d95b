package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/predem/internal/domain"
	"github.com/bft-labs/predem/internal/ports"
)

const (
	recordsEndpoint = "/v1/ingest/records"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Transport implements ports.Transport against the collection service.
type Transport struct {
	client ports.HTTPClient
	logger ports.Logger
	now    func() time.Time
}

var _ ports.Transport = (*Transport)(nil)

// NewTransport creates a new HTTP transport.
func NewTransport(client ports.HTTPClient, logger ports.Logger) *Transport {
	return &Transport{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// envelope is the request body.
type envelope struct {
	InstallID  string       `json:"install_id"`
	AppKey     string       `json:"app_key,omitempty"`
	AppVersion string       `json:"app_version,omitempty"`
	SDKVersion string       `json:"sdk_version"`
	OSArch     string       `json:"os_arch"`
	Hostname   string       `json:"hostname,omitempty"`
	SentAt     time.Time    `json:"sent_at"`
	Records    []wireRecord `json:"records"`
}

// wireRecord carries ids as strings; they exceed the integer range of
// JSON consumers that decode numbers as doubles.
type wireRecord struct {
	ID        string          `json:"id"`
	Kind      domain.Kind     `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	SessionID string          `json:"session_id,omitempty"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// PayloadRaw holds payloads that are not JSON, base64 encoded.
	PayloadRaw []byte `json:"payload_raw,omitempty"`
}

// ack is the response body.
type ack struct {
	Accepted []string `json:"accepted"`
	Rejected []struct {
		ID        string `json:"id"`
		Reason    string `json:"reason"`
		Retryable bool   `json:"retryable"`
	} `json:"rejected"`
}

// Send transmits a batch of records to the collection service.
func (t *Transport) Send(ctx context.Context, batch *domain.Batch, meta ports.SendMetadata) (domain.DeliveryResult, error) {
	if batch.Empty() {
		return domain.DeliveryResult{}, nil
	}
	if meta.ServiceURL == "" {
		return domain.DeliveryResult{}, domain.ErrNotConfigured
	}

	body, err := t.encode(batch, meta)
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	url := strings.TrimRight(meta.ServiceURL, "/") + recordsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("create request: %w", err)
	}

	// Set headers
	req.Header.Set("Authorization", "Bearer "+meta.AppKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("User-Agent", "predem/"+meta.SDKVersion)
	req.Header.Set("X-Predem-Install-Id", meta.InstallID)
	req.Header.Set("X-Predem-App-Version", meta.AppVersion)
	req.Header.Set("X-Predem-OS-Arch", meta.OSArch)

	// Send request
	resp, err := t.client.Do(req)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("read response: %w", err)
	}

	// Check response
	if resp.StatusCode/100 != 2 {
		reason := domain.ReasonStatusCode
		if resp.StatusCode == http.StatusConflict {
			reason = domain.ReasonAppVersionRejected
		}
		return domain.DeliveryResult{}, &StatusError{
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
			Reason: reason,
		}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return domain.DeliveryResult{}, &StatusError{Code: resp.StatusCode, Reason: domain.ReasonEmptyResponse}
	}

	return t.decode(respBody, batch)
}

func (t *Transport) encode(batch *domain.Batch, meta ports.SendMetadata) ([]byte, error) {
	env := envelope{
		InstallID:  meta.InstallID,
		AppKey:     meta.AppKey,
		AppVersion: meta.AppVersion,
		SDKVersion: meta.SDKVersion,
		OSArch:     meta.OSArch,
		Hostname:   meta.Hostname,
		SentAt:     t.now().UTC(),
		Records:    make([]wireRecord, len(batch.Records)),
	}
	for i, r := range batch.Records {
		wr := wireRecord{
			ID:        r.ID.String(),
			Kind:      r.Kind,
			CreatedAt: r.CreatedAt.UTC(),
			SessionID: r.SessionID,
			Attempts:  r.Attempts,
		}
		if json.Valid(r.Payload) {
			wr.Payload = r.Payload
		} else {
			wr.PayloadRaw = r.Payload
		}
		env.Records[i] = wr
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(env); err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// decode maps the acknowledgement to record ids of the batch. Ids the batch
// does not hold are dropped.
func (t *Transport) decode(body []byte, batch *domain.Batch) (domain.DeliveryResult, error) {
	var a ack
	if err := json.Unmarshal(body, &a); err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("decode response: %w", err)
	}

	var res domain.DeliveryResult
	for _, s := range a.Accepted {
		if id, ok := t.batchID(s, batch); ok {
			res.Accepted = append(res.Accepted, id)
		}
	}
	for _, rj := range a.Rejected {
		if id, ok := t.batchID(rj.ID, batch); ok {
			res.Rejected = append(res.Rejected, domain.Rejection{
				ID:        id,
				Reason:    rj.Reason,
				Permanent: !rj.Retryable,
			})
		}
	}
	return res, nil
}

func (t *Transport) batchID(s string, batch *domain.Batch) (domain.RecordID, bool) {
	id, err := domain.ParseRecordID(s)
	if err != nil || !batch.Contains(id) {
		t.logger.Debug("ignoring acknowledgement for unknown record", ports.String("id", s))
		return 0, false
	}
	return id, true
}
