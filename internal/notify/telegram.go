package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/listing-scanner/internal/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramTransport delivers notifications through the Telegram Bot API.
type TelegramTransport struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramTransport creates a transport for the given bot token.
func NewTelegramTransport(token string) (*TelegramTransport, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	return &TelegramTransport{
		token:   token,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send delivers one message to a chat.
func (t *TelegramTransport) Send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: false,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("telegram returned status %d with unparseable body", resp.StatusCode)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram error %d: %s", parsed.ErrorCode, parsed.Description)
	}
	return nil
}

// FormatListing renders a listing as notification text.
func FormatListing(l *models.Listing) string {
	var sb strings.Builder

	title := l.Title
	if title == "" {
		title = l.Address
	}
	sb.WriteString("New listing: ")
	sb.WriteString(title)
	sb.WriteString("\n")

	if l.City != "" {
		sb.WriteString(titleCase(l.City))
		sb.WriteString("\n")
	}
	if l.PriceNumeric > 0 {
		fmt.Fprintf(&sb, "€%d", l.PriceNumeric)
		if l.PricePeriod != "" {
			fmt.Fprintf(&sb, " per %s", l.PricePeriod)
		}
		sb.WriteString("\n")
	}
	if l.LivingArea > 0 {
		fmt.Fprintf(&sb, "%d m²", l.LivingArea)
		if l.Rooms > 0 {
			fmt.Fprintf(&sb, ", %d rooms", l.Rooms)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(l.URL)
	return sb.String()
}

// titleCase capitalizes the first rune of each hyphen- or space-separated
// word, turning city slugs like "den-haag" into "Den-Haag".
func titleCase(s string) string {
	rs := []rune(s)
	boundary := true
	for i, r := range rs {
		if boundary {
			rs[i] = unicode.ToUpper(r)
		}
		boundary = r == ' ' || r == '-'
	}
	return string(rs)
}
