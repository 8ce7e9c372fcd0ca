// Package client holds HTTP clients for the other back-office modules.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/domain/prescription"
	"github.com/mutuellesante/go-officine/pkg/circuitbreaker"
)

// DoctorDirectory implements prescription.Directory against the doctor
// module's REST API. All calls go through a circuit breaker so a dead doctor
// module degrades the pending queue instead of hanging every request.
type DoctorDirectory struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewDoctorDirectory builds the client. baseURL is the doctor module root,
// e.g. http://doctor-api:8080.
func NewDoctorDirectory(baseURL, apiKey string, logger *zap.Logger) (*DoctorDirectory, error) {
	cfg := circuitbreaker.DefaultConfig("doctor-directory")
	// A missing prescription is an answer, not an upstream failure.
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, prescription.ErrNotFound)
	}
	breaker, err := circuitbreaker.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &DoctorDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Get implements prescription.Directory.
func (d *DoctorDirectory) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	var p prescription.Prescription
	err := d.getJSON(ctx, d.baseURL+"/api/v1/prescriptions/"+url.PathEscape(id), &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListIssued implements prescription.Directory.
func (d *DoctorDirectory) ListIssued(ctx context.Context) ([]*prescription.Prescription, error) {
	var out struct {
		Prescriptions []*prescription.Prescription `json:"prescriptions"`
	}
	err := d.getJSON(ctx, d.baseURL+"/api/v1/prescriptions?status=issued", &out)
	if err != nil {
		return nil, err
	}
	return out.Prescriptions, nil
}

func (d *DoctorDirectory) getJSON(ctx context.Context, rawURL string, dest any) error {
	_, err := d.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if d.apiKey != "" {
			req.Header.Set("X-API-Key", d.apiKey)
		}

		resp, err := d.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("doctor module request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, prescription.ErrNotFound
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("doctor module returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return nil, fmt.Errorf("decode doctor module response: %w", err)
		}
		return nil, nil
	})
	return err
}
