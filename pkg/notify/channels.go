package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/nightwatch/nightwatch/pkg/config"
	"github.com/nightwatch/nightwatch/pkg/database"
)

func cfgString(c database.JSONMap, key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EmailSender delivers over BYO SMTP via net/smtp, or a small internal
// HTTP client against the Resend REST contract when an org provides a
// Resend API key — no resend client exists in the retrieved pack, so the
// documented REST contract is implemented directly.
type EmailSender struct {
	Fallback config.FallbackCredentials
}

func (s *EmailSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	apiKey := cfgString(channel.Config, "resendApiKey")
	if apiKey == "" {
		apiKey = s.Fallback.ResendAPIKey
	}
	if apiKey != "" {
		return s.sendViaResend(ctx, apiKey, channel, n)
	}
	return s.sendViaSMTP(channel, n)
}

func (s *EmailSender) sendViaResend(ctx context.Context, apiKey string, channel *database.AlertChannel, n Notification) error {
	body, _ := json.Marshal(map[string]interface{}{
		"from":    cfgString(channel.Config, "fromAddress"),
		"to":      []string{cfgString(channel.Config, "toAddress")},
		"subject": fmt.Sprintf("[NightWatch] %s", n.Message),
		"html":    fmt.Sprintf("<p>%s</p>", n.Message),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("resend: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *EmailSender) sendViaSMTP(channel *database.AlertChannel, n Notification) error {
	host := cfgString(channel.Config, "smtpHost")
	port := cfgString(channel.Config, "smtpPort")
	if host == "" {
		return fmt.Errorf("email channel missing smtpHost and no resend API key configured")
	}
	addr := net.JoinHostPort(host, port)
	from := cfgString(channel.Config, "fromAddress")
	to := cfgString(channel.Config, "toAddress")
	msg := fmt.Sprintf("Subject: [NightWatch] %s\r\n\r\n%s\r\n", n.Message, n.Message)

	var auth smtp.Auth
	if user := cfgString(channel.Config, "username"); user != "" {
		auth = smtp.PlainAuth("", user, cfgString(channel.Config, "password"), host)
	}
	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
}

// SlackSender posts via github.com/slack-go/slack's webhook helper.
type SlackSender struct{}

func (s *SlackSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	webhookURL := cfgString(channel.Config, "webhookUrl")
	if webhookURL == "" {
		return fmt.Errorf("slack channel missing webhookUrl")
	}
	msg := &slack.WebhookMessage{Text: n.Message}
	return slack.PostWebhookContext(ctx, webhookURL, msg)
}

// WebhookSender covers discord/teams/googlechat/ntfy: spec.md defines
// these as plain webhook contracts — a JSON POST with a "text"/"content"
// field, tolerant of whichever the target expects.
type WebhookSender struct{}

func (s *WebhookSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	webhookURL := cfgString(channel.Config, "webhookUrl")
	if webhookURL == "" {
		return fmt.Errorf("webhook channel missing webhookUrl")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"text":    n.Message,
		"content": n.Message,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SignedWebhookSender is the generic outbound webhook channel, signed
// with X-Uni-Status-Signature/X-Uni-Status-Timestamp via
// crypto/hmac+crypto/sha256 per spec.md §4.5.
type SignedWebhookSender struct{}

func (s *SignedWebhookSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	webhookURL := cfgString(channel.Config, "webhookUrl")
	secret := cfgString(channel.Config, "signingSecret")
	if webhookURL == "" {
		return fmt.Errorf("webhook channel missing webhookUrl")
	}
	body, _ := json.Marshal(n)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Uni-Status-Timestamp", timestamp)
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(timestamp + "."))
		mac.Write(body)
		req.Header.Set("X-Uni-Status-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PagerDutySender posts to the Events API v2; no PagerDuty SDK exists in
// the retrieved pack.
type PagerDutySender struct{}

func (s *PagerDutySender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	routingKey := cfgString(channel.Config, "routingKey")
	if routingKey == "" {
		return fmt.Errorf("pagerduty channel missing routingKey")
	}
	action := "trigger"
	if n.Kind == "resolved" {
		action = "resolve"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"routing_key":  routingKey,
		"event_action": action,
		"dedup_key":    n.MonitorID,
		"payload": map[string]interface{}{
			"summary":  n.Message,
			"source":   n.MonitorName,
			"severity": "critical",
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://events.pagerduty.com/v2/enqueue", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pagerduty: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SMSSender posts a form-encoded request to a carrier REST API (Twilio's
// shape, per spec.md's literal description), falling back to
// platform-level Twilio credentials when an org hasn't configured its
// own.
type SMSSender struct {
	Fallback config.FallbackCredentials
}

func (s *SMSSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	sid := cfgString(channel.Config, "twilioAccountSid")
	token := cfgString(channel.Config, "twilioAuthToken")
	from := cfgString(channel.Config, "twilioFromNumber")
	if sid == "" {
		sid = s.Fallback.TwilioAccountSID
		token = s.Fallback.TwilioAuthToken
		from = s.Fallback.TwilioFromNumber
	}
	to := cfgString(channel.Config, "toNumber")
	if sid == "" || token == "" || to == "" {
		return fmt.Errorf("sms channel missing Twilio credentials or recipient")
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", n.Message)

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", sid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(sid, token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("twilio: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// IRCSender implements the literal connect→join→say→quit protocol
// description over a raw net/crypto-tls connection.
type IRCSender struct{}

func (s *IRCSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	server := cfgString(channel.Config, "server")
	nick := cfgString(channel.Config, "nickname")
	if nick == "" {
		nick = "nightwatch"
	}
	target := cfgString(channel.Config, "channel")
	if server == "" || target == "" {
		return fmt.Errorf("irc channel missing server or channel")
	}

	var conn net.Conn
	var err error
	d := net.Dialer{Timeout: 10 * time.Second}
	if cfgString(channel.Config, "tls") == "true" {
		conn, err = tls.DialWithDialer(&d, "tcp", server, &tls.Config{ServerName: hostOnly(server)})
	} else {
		conn, err = d.DialContext(ctx, "tcp", server)
	}
	if err != nil {
		return fmt.Errorf("irc: failed to connect: %w", err)
	}
	defer conn.Close()

	send := func(line string) error {
		_, err := conn.Write([]byte(line + "\r\n"))
		return err
	}
	if err := send("NICK " + nick); err != nil {
		return err
	}
	if err := send(fmt.Sprintf("USER %s 0 * :NightWatch Bot", nick)); err != nil {
		return err
	}
	if err := send("JOIN " + target); err != nil {
		return err
	}
	if err := send(fmt.Sprintf("PRIVMSG %s :%s", target, n.Message)); err != nil {
		return err
	}
	return send("QUIT :done")
}

func hostOnly(target string) string {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return target
	}
	return host
}

// TwitterSender posts via net/http with hand-rolled OAuth 1.0a
// HMAC-SHA1 signing, per spec.md's literal description — no Twitter SDK
// exists in the retrieved pack.
type TwitterSender struct{}

func (s *TwitterSender) Send(ctx context.Context, channel *database.AlertChannel, n Notification) error {
	consumerKey := cfgString(channel.Config, "consumerKey")
	consumerSecret := cfgString(channel.Config, "consumerSecret")
	accessToken := cfgString(channel.Config, "accessToken")
	accessSecret := cfgString(channel.Config, "accessSecret")
	if consumerKey == "" || accessToken == "" {
		return fmt.Errorf("twitter channel missing OAuth credentials")
	}

	endpoint := "https://api.twitter.com/2/tweets"
	body, _ := json.Marshal(map[string]string{"text": n.Message})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", oauth1Header(req.Method, endpoint, consumerKey, consumerSecret, accessToken, accessSecret))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("twitter: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func oauth1Header(method, endpoint, consumerKey, consumerSecret, token, tokenSecret string) string {
	nonce := strconv.FormatInt(rand.Int63(), 36)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	params := url.Values{}
	params.Set("oauth_consumer_key", consumerKey)
	params.Set("oauth_nonce", nonce)
	params.Set("oauth_signature_method", "HMAC-SHA1")
	params.Set("oauth_timestamp", timestamp)
	params.Set("oauth_token", token)
	params.Set("oauth_version", "1.0")

	baseString := method + "&" + url.QueryEscape(endpoint) + "&" + url.QueryEscape(params.Encode())
	signingKey := url.QueryEscape(consumerSecret) + "&" + url.QueryEscape(tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	params.Set("oauth_signature", signature)

	var b strings.Builder
	b.WriteString("OAuth ")
	first := true
	for k, v := range params {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(fmt.Sprintf(`%s="%s"`, k, url.QueryEscape(v[0])))
	}
	return b.String()
}
