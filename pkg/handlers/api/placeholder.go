package api

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
)

const (
	placeholderMinSide = 16
	placeholderMaxSide = 2000
)

// dimension parses a placeholder side length, clamped to a sane range.
func dimension(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return min(max(v, placeholderMinSide), placeholderMaxSide)
}

// handlePlaceholder renders the SVG card shown in place of posters that
// could not be fetched.
func (h *Handlers) handlePlaceholder(w http.ResponseWriter, r *http.Request) {
	width := dimension(r, "width", 200)
	height := dimension(r, "height", 300)

	title := strings.TrimSpace(r.URL.Query().Get("query"))
	if title == "" {
		title = "No image"
	}
	if len([]rune(title)) > 40 {
		title = string([]rune(title)[:37]) + "..."
	}

	fontSize := max(width/12, 8)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" width="%[1]d" height="%[2]d" viewBox="0 0 %[1]d %[2]d">
  <rect width="100%%" height="100%%" fill="#1f2937"/>
  <text x="50%%" y="50%%" fill="#9ca3af" font-family="sans-serif" font-size="%[3]d" text-anchor="middle" dominant-baseline="middle">%[4]s</text>
</svg>
`, width, height, fontSize, html.EscapeString(title))
}
