package lookup

import (
	"net/http"
	"strings"
)

// BlockKind describes an anti-bot page served instead of content.
type BlockKind string

const (
	BlockNone       BlockKind = ""
	BlockCloudflare BlockKind = "cloudflare"
	BlockCaptcha    BlockKind = "captcha"
	BlockJSShell    BlockKind = "js_shell"
)

// maxChallengeBody bounds the body size inspected for challenge markers.
// Real faction pages are far larger and may legitimately mention captchas.
const maxChallengeBody = 16 * 1024

// BlockedError reports that the site answered with a challenge page.
type BlockedError struct {
	Op   string
	Kind BlockKind
}

func (e *BlockedError) Error() string {
	return e.Op + ": blocked by " + string(e.Kind) + " page"
}

// detectBlock checks a response for signs of anti-bot protection.
func detectBlock(code int, header http.Header, body string) BlockKind {
	// Cloudflare: 403/503 with cf-* headers.
	if code == http.StatusForbidden || code == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-cache-status") != "" {
			return BlockCloudflare
		}
		if strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	if len(body) > maxChallengeBody {
		return BlockNone
	}
	lower := strings.ToLower(body)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return BlockCloudflare
	}

	if strings.Contains(lower, "captcha") {
		return BlockCaptcha
	}

	// JS-only shell: tiny body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
