package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"cmdworker/internal/tlsconfig"
	"cmdworker/pkg/api"
)

// Generous: delete blocks server-side until the process exit is confirmed,
// which is bounded but not instant.
const requestTimeout = 30 * time.Second

var errNotFound = errors.New("job not found")

// client is a thin mTLS HTTP client for the workerd REST API.
type client struct {
	http    *http.Client
	baseURL string
}

func newClient(cfg *config) (*client, error) {
	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   cfg.certPath,
		KeyPath:    cfg.keyPath,
		CACertPath: cfg.caCertPath,
		ServerName: cfg.serverHostname,
	})
	if err != nil {
		return nil, err
	}

	return &client{
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
			Timeout:   requestTimeout,
		},
		baseURL: "https://" + net.JoinHostPort(
			cfg.serverHostname,
			cfg.serverPort,
		),
	}, nil
}

func (c *client) submitJob(
	ctx context.Context,
	command string,
	args []string,
) (uint64, error) {
	var resp api.SubmitJobResponse

	err := c.do(
		ctx,
		http.MethodPost,
		"/jobs",
		api.SubmitJobRequest{Command: command, Args: args},
		http.StatusCreated,
		&resp,
	)
	if err != nil {
		return 0, err
	}

	return resp.ID, nil
}

func (c *client) listJobs(ctx context.Context) ([]api.JobSummary, error) {
	var resp []api.JobSummary

	err := c.do(ctx, http.MethodGet, "/jobs", nil, http.StatusOK, &resp)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *client) jobStatus(
	ctx context.Context,
	id uint64,
) (api.JobStatusResponse, error) {
	var resp api.JobStatusResponse

	err := c.do(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/jobs/%d/status", id),
		nil,
		http.StatusOK,
		&resp,
	)
	if err != nil {
		return api.JobStatusResponse{}, err
	}

	return resp, nil
}

func (c *client) jobOutput(
	ctx context.Context,
	id uint64,
) (api.JobOutputResponse, error) {
	var resp api.JobOutputResponse

	err := c.do(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/jobs/%d/output", id),
		nil,
		http.StatusOK,
		&resp,
	)
	if err != nil {
		return api.JobOutputResponse{}, err
	}

	return resp, nil
}

func (c *client) deleteJob(ctx context.Context, id uint64) error {
	return c.do(
		ctx,
		http.MethodDelete,
		fmt.Sprintf("/jobs/%d", id),
		nil,
		http.StatusNoContent,
		nil,
	)
}

// do sends one request and decodes the response into out when it matches
// wantStatus. Error responses are mapped to readable messages.
func (c *client) do(
	ctx context.Context,
	method string,
	path string,
	body any,
	wantStatus int,
	out any,
) error {
	var reqBody bytes.Buffer

	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("server unavailable: %s", urlErr.Err)
		}

		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == wantStatus:
		if out == nil {
			return nil
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		return nil

	case resp.StatusCode == http.StatusNotFound:
		return errNotFound

	default:
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil &&
			errResp.Error != "" {
			return errors.New(errResp.Error)
		}

		return fmt.Errorf("unexpected response status: %s", resp.Status)
	}
}
