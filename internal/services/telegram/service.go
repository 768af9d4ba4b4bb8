// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/dynabackup/internal/models"
	"github.com/rs/zerolog"
)

// maxSamples bounds the error lines quoted in a message.
const maxSamples = 3

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification sends a run notification via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("status", string(msg.Report.Status)).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(msg models.TelegramMessage) string {
	var b strings.Builder
	rep := msg.Report
	op := rep.Operation.Title()

	switch rep.Status {
	case models.StatusSuccess:
		fmt.Fprintf(&b, "✅ <b>%s Successful</b>\n\n", op)
	case models.StatusPartial:
		fmt.Fprintf(&b, "⚠️ <b>%s Partially Successful</b>\n\n", op)
	default:
		fmt.Fprintf(&b, "❌ <b>%s Failed</b>\n\n", op)
	}

	fmt.Fprintf(&b, "🌐 <b>Environment:</b> %s\n", escapeHTML(msg.Environment))
	fmt.Fprintf(&b, "🆔 <b>Run:</b> <code>%s</code>\n", escapeHTML(rep.RunID))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", rep.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", rep.Duration.Round(time.Second))

	if rep.Status != models.StatusFailed {
		b.WriteString("\n<b>📊 Statistics:</b>\n")
		fmt.Fprintf(&b, "  • Files: %s\n", humanize.Comma(int64(rep.TotalFiles)))
		fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(rep.TotalBytes)))
		fmt.Fprintf(&b, "  • Warnings: %d\n", rep.WarningCount)
		fmt.Fprintf(&b, "  • Errors: %d\n", rep.ErrorCount)
		if rep.OutputPath != "" {
			fmt.Fprintf(&b, "  • Output: <code>%s</code>\n", escapeHTML(rep.OutputPath))
		}
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Kind: %s\n", escapeHTML(rep.FailureKind))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", escapeHTML(rep.ErrorMessage))
	}

	if len(rep.ErrorSamples) > 0 {
		b.WriteString("\n<b>🧾 First errors:</b>\n")
		for i, line := range rep.ErrorSamples {
			if i == maxSamples {
				fmt.Fprintf(&b, "  … %d more\n", rep.ErrorCount-maxSamples)
				break
			}
			fmt.Fprintf(&b, "  <code>%s</code>\n", escapeHTML(line))
		}
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
