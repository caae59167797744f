package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

type client struct {
	baseURL    string
	token      string
	adminToken string
	httpClient *http.Client
}

func newClient(baseURL, token, adminToken string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		adminToken: firstNonEmpty(adminToken, token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &body) == nil && body.Error != "" {
		return fmt.Sprintf("error (%d): %s", e.Status, body.Error)
	}
	return fmt.Sprintf("error (%d): %s", e.Status, strings.TrimSpace(e.Body))
}

const apiBase = "/v1/reportq"

func (c *client) request(method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+apiBase+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, token, out)
}

func (c *client) do(req *http.Request, token string, out any) error {
	if token == "" {
		return errors.New("token is required (run `reportq init` or pass --token)")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type submitResp struct {
	TaskID    string `json:"taskId"`
	SubjectID string `json:"subjectId"`
}

// uploadReport posts the report archive as multipart form data. A progress bar
// is drawn when stderr is a terminal.
func (c *client) uploadReport(reportPath string, fields map[string]string) (*submitResp, error) {
	f, err := os.Open(reportPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("report", filepath.Base(reportPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", reportPath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	size := int64(buf.Len())
	var body io.Reader = &buf
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Uploading report"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(24),
			progressbar.OptionClearOnFinish(),
		)
		body = io.TeeReader(&buf, bar)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+apiBase+"/reports", body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out submitResp
	if err := c.do(req, c.token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
