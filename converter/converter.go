// Package converter talks to the external subscription converter service
// and owns the callback-token handshake that lets the converter fetch the
// raw aggregation back from us without holding any client credentials.
package converter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
)

// Target formats the core understands. Base64 is the only one served
// locally; everything else goes through the converter.
const (
	TargetBase64  = "base64"
	TargetClash   = "clash"
	TargetSingbox = "singbox"
	TargetSurge   = "surge"
)

// callbackLabel is the fixed HMAC input for callback-token derivation.
const callbackLabel = "subhub-callback"

// fallbackSecret keys the token when no admin secret is configured. Any
// real deployment should set one.
const fallbackSecret = "subhub-default-secret"

// Negotiate picks the output format. An explicit target always wins;
// otherwise the client's declared identity is scanned case-insensitively
// in fixed priority order. Base64 is the fallback because it is the only
// format served without the external converter.
func Negotiate(target, userAgent string) string {
	if target != "" {
		return target
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "clash") || strings.Contains(ua, "mihomo") || strings.Contains(ua, "stash"):
		return TargetClash
	case strings.Contains(ua, "sing-box") || strings.Contains(ua, "singbox"):
		return TargetSingbox
	case strings.Contains(ua, "surge"):
		return TargetSurge
	default:
		return TargetBase64
	}
}

// CallbackToken derives the capability token embedded in the callback URL
// handed to the converter. It is a pure function of the admin secret, so
// the converter's cached callback URL stays valid until the secret
// rotates; rotating the token therefore means rotating the secret.
func CallbackToken(secret string) string {
	if secret == "" {
		secret = fallbackSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(callbackLabel))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

// Client issues conversion requests against a converter host.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Request describes one conversion round-trip.
type Request struct {
	// Host of the converter service, scheme included.
	Host string

	// Target output format, e.g. clash.
	Target string

	// CallbackURL points back at our own aggregation endpoint with
	// target=base64 and the callback token attached.
	CallbackURL string

	// Config is the textual config reference passed through to the
	// converter; may be empty.
	Config string
}

// Convert calls the converter's /sub endpoint and returns its body
// verbatim. A failure here is terminal for the client request and is not
// retried.
func (c *Client) Convert(ctx context.Context, req Request) (string, error) {
	params := url.Values{}
	params.Set("target", req.Target)
	params.Set("url", req.CallbackURL)
	if req.Config != "" {
		params.Set("config", req.Config)
	}
	params.Set("scv", "true")
	params.Set("udp", "true")
	if req.Target == TargetClash {
		params.Set("ver", "meta")
	}

	endpoint := strings.TrimSuffix(req.Host, "/") + "/sub?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build converter request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Errorf("converter request failed: %s", err)
		return "", fmt.Errorf("converter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read converter response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Errorf("converter returned status %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("converter returned status %d", resp.StatusCode)
	}

	return string(body), nil
}
