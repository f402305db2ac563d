package domain

import "testing"

func TestGlobalSetCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ABC-EN123", "ABC-123"},
		{"LOB-EN001", "LOB-001"},
		{"SDK-E001", "SDK-01"},
		{"MP22-EN071", "MP22-071"},
		{"X-A", "X-"},
		{"RA01-EN001-X", "RA01-001"},
	}
	for _, c := range cases {
		got, err := GlobalSetCode(c.in)
		if err != nil {
			t.Fatalf("不期望错误：in=%q err=%v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("GlobalSetCode(%q)=%q，期望 %q", c.in, got, c.want)
		}
	}
}

func TestGlobalSetCode_Malformed(t *testing.T) {
	for _, in := range []string{"", "LOBEN001"} {
		if _, err := GlobalSetCode(in); err == nil {
			t.Fatalf("期望 %q 报错，但得到 nil", in)
		}
	}
}

func TestCacheKey_StripsMarkers(t *testing.T) {
	cases := map[string]string{
		"LOB-EN001":   "LOB-EN001",
		"LOB-EN001r":  "LOB-EN001",
		"LOB-EN001b":  "LOB-EN001",
		"LOB-EN001br": "LOB-EN001",
		// 先剥 r 再剥 b：'rb' 结尾只剥掉 b。
		"LOB-EN001rb": "LOB-EN001r",
		" SDK-001 ":   "SDK-001",
	}
	for in, want := range cases {
		if got := CacheKey(in); got != want {
			t.Fatalf("CacheKey(%q)=%q，期望 %q", in, got, want)
		}
	}
}
