package pagegen

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// built-in words for systems without /usr/share/dict/words (windows, containers)
var fallbackWords = []string{
	"app", "main", "vendor", "bundle", "chunk", "runtime", "polyfill",
	"style", "theme", "layout", "grid", "header", "footer", "hero",
	"banner", "carousel", "gallery", "avatar", "logo", "icon", "sprite",
	"font", "regular", "bold", "italic", "analytics", "tracking", "consent",
	"search", "product", "catalog", "cart", "checkout", "account", "profile",
	"article", "comment", "widget", "player", "video", "thumb", "preview",
	"config", "manifest", "locale", "translation", "feature", "experiment",
	"common", "shared", "legacy", "modern", "critical", "deferred", "lazy",
}

// Dictionary holds the words resource paths are made of.
type Dictionary struct {
	words []string
}

// LoadDictionary loads words from a dictionary file, falling back to the built-in list when
// the file does not exist.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return &Dictionary{words: fallbackWords}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Dictionary{words: fallbackWords}, nil
		}
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())

		// path segments: 3-12 chars, alpha only
		if len(word) >= 3 && len(word) <= 12 && isAlpha(word) {
			words = append(words, strings.ToLower(word))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}

	if len(words) == 0 {
		return nil, fmt.Errorf("no valid words found in dictionary")
	}

	return &Dictionary{words: words}, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// RandomWord returns a random word from the dictionary
func (d *Dictionary) RandomWord(rng *rand.Rand) string {
	if len(d.words) == 0 {
		return "resource"
	}
	return d.words[rng.Intn(len(d.words))]
}

// Path joins n random words into a url path.
func (d *Dictionary) Path(n int, rng *rand.Rand) string {
	if n <= 0 {
		return "/"
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.RandomWord(rng)
	}
	return "/" + strings.Join(parts, "/")
}

// Size returns the number of words in the dictionary
func (d *Dictionary) Size() int {
	return len(d.words)
}
