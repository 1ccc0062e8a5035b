package recompose

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/wudi/pdfdeck/engine"
)

// MaxTitleRunes caps derived titles.
const MaxTitleRunes = 80

// pageNumberLine matches lines that are only a page label: "12", "- 3 -",
// "Page 4", "p. 5", "6 / 20", "7 of 9", "第 8 頁", "xii".
var pageNumberLine = regexp2.MustCompile(
	`^[\s\-–—(\[]*(?:(?:page|seite|p\.)\s*)?(?:第\s*)?(?:\d{1,5}|(?=[ivxlcdm])m{0,3}(?:c[md]|d?c{0,3})(?:x[cl]|l?x{0,3})(?:i[xv]|v?i{0,3}))(?:\s*頁)?(?:\s*(?:/|of|von)\s*\d{1,5})?[\s\-–—)\].]*$`,
	regexp2.IgnoreCase)

func isPageNumber(line string) bool {
	ok, err := pageNumberLine.MatchString(line)
	return err == nil && ok
}

// FirstLine returns the first meaningful line of a page: the items sharing
// the baseline of the first non-blank item (within a fifth of its height),
// ordered by x and joined. Lines that are only a page number are skipped.
// The result is trimmed and capped at MaxTitleRunes; "" means none found.
func FirstLine(items []engine.TextItem) string {
	used := make([]bool, len(items))
	for i, it := range items {
		if used[i] || strings.TrimSpace(it.Text) == "" {
			continue
		}
		y := it.Y()
		tol := math.Max(it.Height*0.2, 0.01)
		var line []engine.TextItem
		for j, other := range items {
			if math.Abs(other.Y()-y) < tol {
				line = append(line, other)
				used[j] = true
			}
		}
		sort.SliceStable(line, func(a, b int) bool { return line[a].X() < line[b].X() })
		var sb strings.Builder
		for _, part := range line {
			sb.WriteString(part.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" || isPageNumber(text) {
			continue
		}
		return truncate(text, MaxTitleRunes)
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
