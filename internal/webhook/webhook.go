// Package webhook parses and masks Bitrix24 incoming-webhook URLs.
//
// An incoming webhook embeds the credential in the URL path:
//
//	https://portal.bitrix24.ru/rest/{userID}/{token}/
//
// The token grants full API access for one portal user, so the raw URL
// must never reach a log sink. Every loggable representation goes
// through Descriptor.Masked.
package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedWebhook indicates a URL that does not match the expected
// /rest/{userID}/{token}/ shape on a bitrix24 host.
var ErrMalformedWebhook = errors.New("malformed webhook URL")

// domainMarker must appear in the host of a valid portal URL.
const domainMarker = ".bitrix24."

// Descriptor holds the parsed components of an incoming webhook URL.
// It is immutable once constructed.
type Descriptor struct {
	FullURL   string
	PortalURL string
	UserID    string
	Token     string
}

// Parse validates rawURL and extracts its components. The path must
// start with the literal "rest" segment followed by the user id and
// token; trailing segments are ignored. The host must contain the
// bitrix24 domain marker.
func Parse(rawURL string) (Descriptor, error) {
	cleaned := strings.TrimRight(strings.TrimSpace(rawURL), "/")

	u, err := url.Parse(cleaned)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Descriptor{}, fmt.Errorf("%w: missing scheme or host", ErrMalformedWebhook)
	}
	if !strings.Contains(u.Host, domainMarker) {
		return Descriptor{}, fmt.Errorf("%w: host %q is not a bitrix24 portal", ErrMalformedWebhook, u.Host)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "rest" {
		return Descriptor{}, fmt.Errorf("%w: path must be /rest/{user}/{token}/", ErrMalformedWebhook)
	}
	if parts[1] == "" || parts[2] == "" {
		return Descriptor{}, fmt.Errorf("%w: empty user id or token", ErrMalformedWebhook)
	}

	return Descriptor{
		FullURL:   cleaned,
		PortalURL: u.Scheme + "://" + u.Host,
		UserID:    parts[1],
		Token:     parts[2],
	}, nil
}

// Validate reports whether rawURL is a well-formed webhook URL. It
// never returns an error; use it for user-facing pre-checks.
func Validate(rawURL string) bool {
	_, err := Parse(rawURL)
	return err == nil
}

// Masked returns a loggable form of the webhook URL with the token
// reduced to its first four characters. Tokens of four characters or
// fewer are masked entirely.
func (d Descriptor) Masked() string {
	return fmt.Sprintf("%s/rest/%s/%s/", d.PortalURL, d.UserID, MaskToken(d.Token))
}

// MaskToken masks a webhook token for logging.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
