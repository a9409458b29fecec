package search

import (
	"strings"

	"github.com/docutag/writer/models"
)

var (
	lowQualityPatterns = []string{
		// Subscription and commerce
		"/subscribe", "/subscription", "/subscriptions", "/pricing", "/plans", "/premium", "/upgrade",
		"/checkout", "/cart", "/basket", "/payment",

		// Account and authentication
		"/account", "/profile", "/login", "/signin", "/signup", "/sign-up", "/register", "/auth/",
		"/settings", "/preferences",

		// Unsubscribe and opt-out
		"/unsubscribe", "/opt-out", "/optout",

		// About and contact pages
		"/about-us", "/aboutus", "/who-we-are", "/our-team",
		"/contact", "/contact-us", "/get-in-touch",

		// Navigation and utility
		"/privacy", "/terms", "/cookie", "/legal", "/disclaimer",
		"/sitemap", "/search?", "/rss", "/feed", "/newsletter", "/jobs", "/careers",
		"/press", "/media-kit", "/advertise",

		// Social sharing
		"/share", "/tweet", "/intent/",

		// Navigation fragments
		"#comments", "#respond", "#reply", "#share", "#footer", "#header", "#nav",
	}

	mediaExtensions = []string{
		".mp3", ".wav", ".ogg", ".flac", ".aac", ".m4a", ".wma", ".opus", ".aiff",
		".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg",
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar", ".tar", ".gz",
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp",
	}

	// Hosts whose pages carry no extractable article text
	blockedHosts = []string{
		"youtube.com", "youtu.be", "vimeo.com", "dailymotion.com",
		"twitch.tv", "soundcloud.com", "spotify.com", "music.apple.com",
		"tiktok.com", "instagram.com", "facebook.com", "twitter.com", "//x.com/",
		"pinterest.com", "linkedin.com",
	}
)

// isLowQualityURL reports whether targetURL points at commerce, account,
// legal, social or media content rather than an article
func isLowQualityURL(targetURL string) bool {
	urlLower := strings.ToLower(targetURL)

	for _, ext := range mediaExtensions {
		if strings.HasSuffix(urlLower, ext) || strings.Contains(urlLower, ext+"?") {
			return true
		}
	}

	for _, host := range blockedHosts {
		if strings.Contains(urlLower, host) {
			return true
		}
	}

	for _, pattern := range lowQualityPatterns {
		if strings.Contains(urlLower, pattern) {
			return true
		}
	}

	return false
}

// FilterSources drops low-quality and duplicate URLs, keeping the first
// occurrence of each. It returns the kept sources and the number dropped.
func FilterSources(sources []models.SourceRef) ([]models.SourceRef, int) {
	if len(sources) == 0 {
		return sources, 0
	}

	filtered := make([]models.SourceRef, 0, len(sources))
	seen := make(map[string]bool, len(sources))
	dropped := 0

	for _, src := range sources {
		key := strings.TrimSuffix(strings.ToLower(src.URL), "/")
		if seen[key] || isLowQualityURL(src.URL) {
			dropped++
			continue
		}
		seen[key] = true
		filtered = append(filtered, src)
	}

	return filtered, dropped
}
