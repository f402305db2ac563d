package scrape

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示卡表接口返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	st := strings.TrimSpace(e.Status)
	if st == "" {
		return fmt.Sprintf("HTTP %d url=%s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %s url=%s", st, e.URL)
}
