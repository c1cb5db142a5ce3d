// Package notify routes status transitions and external alerts to outbound
// notification channels: Discord, Slack, Telegram, email, generic webhooks,
// Pushover, and PagerDuty.
package notify

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"pulsemon/internal/config"
	"pulsemon/internal/models"
)

// Kind identifies a channel implementation.
type Kind string

const (
	KindDiscord   Kind = "discord"
	KindSlack     Kind = "slack"
	KindTelegram  Kind = "telegram"
	KindEmail     Kind = "email"
	KindWebhook   Kind = "webhook"
	KindPushover  Kind = "pushover"
	KindPagerDuty Kind = "pagerduty"
)

// Notification is one alert bound for delivery, annotated with the event
// type used for icon/colour selection and the PagerDuty dedup key.
type Notification struct {
	Event    models.EventType
	Alert    models.Alert
	DedupKey string
}

// Vars returns the template substitution set for the notification.
func (n Notification) Vars() Vars {
	v := Vars{
		"title":     n.Alert.Title,
		"message":   n.Alert.Message,
		"severity":  string(n.Alert.Severity),
		"event":     string(n.Event),
		"icon":      eventIcon(n.Event),
		"source":    n.Alert.Source,
		"status":    n.Alert.Status,
		"timestamp": n.Alert.Timestamp.UTC().Format(time.RFC3339),
	}
	for k, val := range n.Alert.Labels {
		v["label."+k] = val
	}
	return v
}

// Channel is the interface for all notification backends.
type Channel interface {
	// Send delivers a notification. Returns an error if delivery fails.
	Send(ctx context.Context, n Notification) error

	// Name returns the configured channel name.
	Name() string

	// Kind returns the channel implementation kind.
	Kind() Kind
}

// SecretFunc looks up a named secret; os.Getenv in production.
type SecretFunc func(string) string

// SecretKey derives the secret-store key for a channel name:
// PULSEMON_CHANNEL_<NAME> with non-alphanumerics folded to underscores.
func SecretKey(name string) string {
	var b strings.Builder
	b.WriteString("PULSEMON_CHANNEL_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func resolveSecret(secrets SecretFunc, name, inline string) string {
	if secrets != nil {
		if v := secrets(SecretKey(name)); v != "" {
			return v
		}
	}
	return inline
}

// New builds a dispatcher for the configured channel. The primary credential
// is resolved from the secret store first, then the inline config value; a
// channel with no credential at all is a configuration error.
func New(cfg config.Channel, secrets SecretFunc) (Channel, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	switch Kind(cfg.Type) {
	case KindDiscord:
		url := resolveSecret(secrets, cfg.Name, cfg.WebhookURL)
		if url == "" {
			return nil, fmt.Errorf("channel %s: missing webhook URL", cfg.Name)
		}
		return &DiscordChannel{name: cfg.Name, webhookURL: url, templates: cfg.Templates, client: client}, nil
	case KindSlack:
		url := resolveSecret(secrets, cfg.Name, cfg.WebhookURL)
		if url == "" {
			return nil, fmt.Errorf("channel %s: missing webhook URL", cfg.Name)
		}
		return &SlackChannel{name: cfg.Name, webhookURL: url, templates: cfg.Templates, client: client}, nil
	case KindTelegram:
		token := resolveSecret(secrets, cfg.Name, cfg.BotToken)
		if token == "" || cfg.ChatID == "" {
			return nil, fmt.Errorf("channel %s: missing bot token or chat id", cfg.Name)
		}
		return &TelegramChannel{name: cfg.Name, botToken: token, chatID: cfg.ChatID, templates: cfg.Templates, apiBase: telegramAPIBase, client: client}, nil
	case KindEmail:
		key := resolveSecret(secrets, cfg.Name, cfg.APIKey)
		if key == "" || cfg.From == "" || len(cfg.To) == 0 {
			return nil, fmt.Errorf("channel %s: missing api key, from, or to", cfg.Name)
		}
		return &EmailChannel{name: cfg.Name, apiKey: key, from: cfg.From, to: cfg.To, templates: cfg.Templates, endpoint: emailEndpoint, client: client}, nil
	case KindWebhook:
		url := resolveSecret(secrets, cfg.Name, cfg.URL)
		if url == "" {
			return nil, fmt.Errorf("channel %s: missing url", cfg.Name)
		}
		method := cfg.Method
		if method == "" {
			method = http.MethodPost
		}
		return &WebhookChannel{name: cfg.Name, url: url, method: method, headers: cfg.Headers, client: client}, nil
	case KindPushover:
		token := resolveSecret(secrets, cfg.Name, cfg.AppToken)
		if token == "" || cfg.UserKey == "" {
			return nil, fmt.Errorf("channel %s: missing app token or user key", cfg.Name)
		}
		return &PushoverChannel{name: cfg.Name, appToken: token, userKey: cfg.UserKey, templates: cfg.Templates, endpoint: pushoverEndpoint, client: client}, nil
	case KindPagerDuty:
		key := resolveSecret(secrets, cfg.Name, cfg.RoutingKey)
		if key == "" {
			return nil, fmt.Errorf("channel %s: missing routing key", cfg.Name)
		}
		return &PagerDutyChannel{name: cfg.Name, routingKey: key, endpoint: pagerdutyEndpoint, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

const (
	telegramAPIBase   = "https://api.telegram.org"
	emailEndpoint     = "https://api.resend.com/emails"
	pushoverEndpoint  = "https://api.pushover.net/1/messages.json"
	pagerdutyEndpoint = "https://events.pagerduty.com/v2/enqueue"
)

func eventIcon(event models.EventType) string {
	switch event {
	case models.EventDown:
		return "🔴"
	case models.EventDegraded:
		return "🟡"
	case models.EventUp:
		return "🟢"
	default:
		return "⚪"
	}
}

func eventColor(event models.EventType) int {
	switch event {
	case models.EventDown:
		return 0xE74C3C
	case models.EventDegraded:
		return 0xF39C12
	case models.EventUp:
		return 0x2ECC71
	default:
		return 0x95A5A6
	}
}

// embed is the rich-message shape shared by the Discord and Slack variants.
type embed struct {
	title  string
	body   string
	color  int
	fields [][2]string
}

func buildEmbed(templates map[string]string, n Notification) embed {
	vars := n.Vars()
	e := embed{
		title: templated(templates, "title", vars, fmt.Sprintf("%s %s", eventIcon(n.Event), n.Alert.Title)),
		body:  templated(templates, "message", vars, n.Alert.Message),
		color: eventColor(n.Event),
	}
	e.fields = append(e.fields,
		[2]string{"Severity", string(n.Alert.Severity)},
		[2]string{"Source", n.Alert.Source},
	)
	keys := make([]string, 0, len(n.Alert.Labels))
	for k := range n.Alert.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.fields = append(e.fields, [2]string{k, n.Alert.Labels[k]})
	}
	return e
}

func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// --- Discord ---

// DiscordChannel posts a rich embed to a Discord webhook.
type DiscordChannel struct {
	name       string
	webhookURL string
	templates  map[string]string
	client     *http.Client
}

func (d *DiscordChannel) Name() string { return d.name }
func (d *DiscordChannel) Kind() Kind   { return KindDiscord }

func (d *DiscordChannel) Send(ctx context.Context, n Notification) error {
	e := buildEmbed(d.templates, n)
	fields := make([]map[string]any, 0, len(e.fields))
	for _, f := range e.fields {
		fields = append(fields, map[string]any{"name": f[0], "value": f[1], "inline": true})
	}
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       e.title,
			"description": e.body,
			"color":       e.color,
			"fields":      fields,
			"timestamp":   n.Alert.Timestamp.UTC().Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.client, http.MethodPost, d.webhookURL, nil, payload); err != nil {
		return fmt.Errorf("discord %s: %w", d.name, err)
	}
	return nil
}

// --- Slack ---

// SlackChannel posts an attachment to a Slack incoming webhook.
type SlackChannel struct {
	name       string
	webhookURL string
	templates  map[string]string
	client     *http.Client
}

func (s *SlackChannel) Name() string { return s.name }
func (s *SlackChannel) Kind() Kind   { return KindSlack }

func (s *SlackChannel) Send(ctx context.Context, n Notification) error {
	e := buildEmbed(s.templates, n)
	fields := make([]map[string]any, 0, len(e.fields))
	for _, f := range e.fields {
		fields = append(fields, map[string]any{"title": f[0], "value": f[1], "short": true})
	}
	payload := map[string]any{
		"attachments": []map[string]any{{
			"color":  fmt.Sprintf("#%06X", e.color),
			"title":  e.title,
			"text":   e.body,
			"fields": fields,
			"ts":     n.Alert.Timestamp.Unix(),
		}},
	}
	if err := postJSON(ctx, s.client, http.MethodPost, s.webhookURL, nil, payload); err != nil {
		return fmt.Errorf("slack %s: %w", s.name, err)
	}
	return nil
}

// --- Telegram ---

// TelegramChannel sends a text message via the Telegram Bot API.
type TelegramChannel struct {
	name      string
	botToken  string
	chatID    string
	templates map[string]string
	apiBase   string
	client    *http.Client
}

func (t *TelegramChannel) Name() string { return t.name }
func (t *TelegramChannel) Kind() Kind   { return KindTelegram }

func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	vars := n.Vars()
	text := templated(t.templates, "message", vars,
		fmt.Sprintf("%s %s\n%s", eventIcon(n.Event), n.Alert.Title, n.Alert.Message))

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if err := postJSON(ctx, t.client, http.MethodPost, url, nil, payload); err != nil {
		return fmt.Errorf("telegram %s: %w", t.name, err)
	}
	return nil
}

// --- Email ---

// EmailChannel sends mail through a transactional email HTTP API.
type EmailChannel struct {
	name      string
	apiKey    string
	from      string
	to        []string
	templates map[string]string
	endpoint  string
	client    *http.Client
}

func (e *EmailChannel) Name() string { return e.name }
func (e *EmailChannel) Kind() Kind   { return KindEmail }

func (e *EmailChannel) Send(ctx context.Context, n Notification) error {
	vars := n.Vars()
	subject := templated(e.templates, "subject", vars,
		fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Event)), n.Alert.Title))
	body := templated(e.templates, "message", vars,
		fmt.Sprintf("%s\n\nSeverity: %s\nSource: %s\nTime: %s",
			n.Alert.Message, n.Alert.Severity, n.Alert.Source,
			n.Alert.Timestamp.UTC().Format(time.RFC3339)))

	payload := map[string]any{
		"from":    e.from,
		"to":      e.to,
		"subject": subject,
		"text":    body,
	}
	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	if err := postJSON(ctx, e.client, http.MethodPost, e.endpoint, headers, payload); err != nil {
		return fmt.Errorf("email %s: %w", e.name, err)
	}
	return nil
}

// --- Webhook ---

// WebhookChannel delivers the raw notification JSON to any HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

func (w *WebhookChannel) Name() string { return w.name }
func (w *WebhookChannel) Kind() Kind   { return KindWebhook }

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"event":     string(n.Event),
		"title":     n.Alert.Title,
		"message":   n.Alert.Message,
		"severity":  string(n.Alert.Severity),
		"source":    n.Alert.Source,
		"labels":    n.Alert.Labels,
		"timestamp": n.Alert.Timestamp.UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, w.client, w.method, w.url, w.headers, payload); err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return nil
}

// --- Pushover ---

// PushoverChannel sends a push notification via the Pushover message API.
type PushoverChannel struct {
	name      string
	appToken  string
	userKey   string
	templates map[string]string
	endpoint  string
	client    *http.Client
}

func (p *PushoverChannel) Name() string { return p.name }
func (p *PushoverChannel) Kind() Kind   { return KindPushover }

func (p *PushoverChannel) Send(ctx context.Context, n Notification) error {
	vars := n.Vars()
	priority := 0
	if n.Event == models.EventDown {
		priority = 1
	}
	payload := map[string]any{
		"token":    p.appToken,
		"user":     p.userKey,
		"title":    templated(p.templates, "title", vars, fmt.Sprintf("%s %s", eventIcon(n.Event), n.Alert.Title)),
		"message":  templated(p.templates, "message", vars, n.Alert.Message),
		"priority": priority,
	}
	if err := postJSON(ctx, p.client, http.MethodPost, p.endpoint, nil, payload); err != nil {
		return fmt.Errorf("pushover %s: %w", p.name, err)
	}
	return nil
}

// --- PagerDuty ---

// PagerDutyChannel triggers and resolves incidents through the PagerDuty
// Events v2 API. The dedup key ties an up event back to the incident opened
// by the earlier down event.
type PagerDutyChannel struct {
	name       string
	routingKey string
	endpoint   string
	client     *http.Client
}

func (p *PagerDutyChannel) Name() string { return p.name }
func (p *PagerDutyChannel) Kind() Kind   { return KindPagerDuty }

func (p *PagerDutyChannel) Send(ctx context.Context, n Notification) error {
	action := "trigger"
	if n.Event == models.EventUp {
		action = "resolve"
	}
	payload := map[string]any{
		"routing_key":  p.routingKey,
		"event_action": action,
		"dedup_key":    n.DedupKey,
		"payload": map[string]any{
			"summary":        fmt.Sprintf("%s: %s", n.Alert.Title, n.Alert.Message),
			"source":         n.Alert.Source,
			"severity":       pagerdutySeverity(n.Alert.Severity),
			"timestamp":      n.Alert.Timestamp.UTC().Format(time.RFC3339),
			"custom_details": n.Alert.Labels,
		},
	}
	if err := postJSON(ctx, p.client, http.MethodPost, p.endpoint, nil, payload); err != nil {
		return fmt.Errorf("pagerduty %s: %w", p.name, err)
	}
	return nil
}

func pagerdutySeverity(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "critical"
	case models.SeverityError:
		return "error"
	case models.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// DedupKeyForAlert derives a stable incident key for an external alert from
// its source and title.
func DedupKeyForAlert(a models.Alert) string {
	sum := sha1.Sum([]byte(a.Source + "|" + a.Title))
	return "pulsemon-" + hex.EncodeToString(sum[:8])
}
