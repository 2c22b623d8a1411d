package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`(?i)https?://[^\s<>]+|discord\.gg/[^\s<>]+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// NormalizeURL lower-cases and punycodes the host and strips fragments,
// credentials and tracking parameters. It returns the URL and its host.
func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

// Link is one URL found in a message, normalized by NormalizeURL.
type Link struct {
	URL  string
	Host string
}

// Links returns the distinct normalized links in content, in order of
// appearance. Links differing only in tracking parameters or fragments
// collapse into one.
func Links(content string) []Link {
	seen := map[string]bool{}
	var links []Link
	for _, raw := range ExtractURLs(content) {
		normalized, host, err := NormalizeURL(raw)
		if err != nil || host == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		links = append(links, Link{URL: normalized, Host: host})
	}
	return links
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
