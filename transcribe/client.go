package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Result struct {
	Language string    `json:"language"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Client is the boundary to the external speech-to-text provider.
type Client interface {
	Transcribe(ctx context.Context, path string) (Result, error)
}

// HTTPClient submits the media file as a multipart POST and consumes a
// whisper-shaped verbose response with segment-level timestamps.
type HTTPClient struct {
	url   string
	token string
	hc    *http.Client
}

func NewHTTPClient(url, token string) *HTTPClient {
	return &HTTPClient{url: url, token: token, hc: &http.Client{}}
}

func (c *HTTPClient) Transcribe(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	// stream the file through the request body, screen recordings can be big
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.WriteField("response_format", "verbose_json")
		}
		if err == nil {
			err = mw.WriteField("timestamp_granularities[]", "segment")
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return Result{}, fmt.Errorf("transcription provider returned %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding provider response: %w", err)
	}
	return result, nil
}
