package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:8080", 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives {
		t.Fatalf("期望禁用 keep-alive，但 Base.DisableKeepAlives=false")
	}
	if c.Timeout != DefaultTimeout {
		t.Fatalf("timeout<=0 时应使用默认值，实际 %v", c.Timeout)
	}
}

func TestNewClient_NoProxyKeepsDefault(t *testing.T) {
	c, err := NewClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Base.DisableKeepAlives {
		t.Fatalf("不期望禁用 keep-alive")
	}
	if c.Timeout != 5*time.Second {
		t.Fatalf("timeout 不符合预期：%v", c.Timeout)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	if _, err := NewClient("http://[::1", 0); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestTransport_SetsUserAgentWhenMissing(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c, err := NewClient("", 0)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	resp.Body.Close()

	got, _ := ua.Load().(string)
	if !strings.HasPrefix(got, "Mozilla/5.0") {
		t.Fatalf("期望注入浏览器 UA，实际 %q", got)
	}
}

func TestTransport_RetriesOnlyReplayableRequests(t *testing.T) {
	var dials int32
	base := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			atomic.AddInt32(&dials, 1)
			return nil, errors.New("dial refused")
		},
	}
	c := &http.Client{Transport: &Transport{Base: base, ua: globalUA, RetryMax: 2}}

	if _, err := c.Get("http://lookup.test/"); err == nil {
		t.Fatalf("期望连接失败")
	}
	if got := atomic.LoadInt32(&dials); got != 3 {
		t.Fatalf("GET 应尝试 1+2 次，实际 %d", got)
	}

	atomic.StoreInt32(&dials, 0)
	req, _ := http.NewRequest(http.MethodPost, "http://lookup.test/", strings.NewReader("{}"))
	if _, err := c.Do(req); err == nil {
		t.Fatalf("期望连接失败")
	}
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("带 body 的 POST 不应重试，实际尝试 %d 次", got)
	}
}
