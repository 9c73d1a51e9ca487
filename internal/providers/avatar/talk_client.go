package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TalkClient calls the avatar rendering HTTP API.
type TalkClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewTalkClient(baseURL, apiKey string, timeout time.Duration) *TalkClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TalkClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type talkRequest struct {
	Text     string `json:"text"`
	Avatar   string `json:"avatar"`
	Emotion  string `json:"emotion"`
	Language string `json:"language"`
	Autoplay bool   `json:"autoplay"`
}

type talkResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	VideoURL string `json:"video_url"`
	HTMLURL  string `json:"html_url"`
	Error    string `json:"error"`
}

func (c *TalkClient) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(talkRequest{
		Text:     req.Text,
		Avatar:   NormalizePersona(req.Persona),
		Emotion:  req.Emotion,
		Language: req.Language,
		Autoplay: req.Autoplay,
	})
	if err != nil {
		return Response{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	const maxBytes = 1 << 20
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if resp.StatusCode/100 != 2 {
		return Response{}, fmt.Errorf("avatar api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tr talkResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Response{}, fmt.Errorf("avatar api: decode: %w", err)
	}
	if !tr.Success {
		msg := tr.Error
		if msg == "" {
			msg = "success=false"
		}
		return Response{}, fmt.Errorf("avatar api: %s", msg)
	}

	url := tr.VideoURL
	if url == "" {
		url = tr.HTMLURL
	}
	return Response{Success: true, Handle: tr.ID, URL: url}, nil
}
