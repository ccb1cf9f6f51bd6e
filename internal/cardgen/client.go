package cardgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
)

// Client calls the card-art generation service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a generation client for the given service URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	SourceType     string `json:"source_type"`
	SourceID       int64  `json:"source_id"`
	DisplayName    string `json:"display_name"`
	PortraitFileID string `json:"portrait_file_id"`
	Rarity         string `json:"rarity"`
}

type generateResponse struct {
	Title       string `json:"title"`
	ImageFileID string `json:"image_file_id"`
	Error       string `json:"error,omitempty"`
}

// Generate requests a new card image from the art service.
func (c *Client) Generate(ctx context.Context, source *model.SourceProfile, tier rarity.Tier) (*GeneratedCard, error) {
	if source == nil || source.PortraitFileID == "" {
		return nil, ErrInvalidSource
	}

	body, err := json.Marshal(generateRequest{
		SourceType:     string(source.Type),
		SourceID:       source.ID,
		DisplayName:    source.DisplayName,
		PortraitFileID: source.PortraitFileID,
		Rarity:         string(tier),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, ErrInvalidSource
	default:
		return nil, fmt.Errorf("%w: service returned %d", ErrImageGeneration, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: bad response body: %v", ErrImageGeneration, err)
	}
	if out.ImageFileID == "" {
		return nil, fmt.Errorf("%w: empty image in response", ErrImageGeneration)
	}

	return &GeneratedCard{
		Title:       out.Title,
		Rarity:      tier,
		ImageFileID: out.ImageFileID,
	}, nil
}
