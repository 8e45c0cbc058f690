package cache

import (
	"net/http/httptest"
	"testing"
)

func TestRequestKey_String(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   string
	}{
		{
			name:   "root",
			method: "GET",
			target: "http://app.example.com/",
			want:   "GET http://app.example.com/",
		},
		{
			name:   "empty path becomes root",
			method: "GET",
			target: "http://app.example.com",
			want:   "GET http://app.example.com/",
		},
		{
			name:   "scheme and host lowercased",
			method: "GET",
			target: "HTTP://App.Example.COM/icon-192.png",
			want:   "GET http://app.example.com/icon-192.png",
		},
		{
			name:   "query kept as sent",
			method: "GET",
			target: "http://app.example.com/search?z=1&a=2&m=3",
			want:   "GET http://app.example.com/search?z=1&a=2&m=3",
		},
		{
			name:   "escaped path kept",
			method: "GET",
			target: "http://app.example.com/files/a%2Fb",
			want:   "GET http://app.example.com/files/a%2Fb",
		},
		{
			name:   "semicolon query kept",
			method: "GET",
			target: "http://app.example.com/x?id=1;2",
			want:   "GET http://app.example.com/x?id=1;2",
		},
		{
			name:   "invalid query escape kept",
			method: "GET",
			target: "http://app.example.com/s?q=%zz",
			want:   "GET http://app.example.com/s?q=%zz",
		},
		{
			name:   "method upper-cased",
			method: "post",
			target: "http://app.example.com/api",
			want:   "POST http://app.example.com/api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			got := NewRequestKey(req).String()
			if got != tt.want {
				t.Errorf("RequestKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewRequestKey_ServerRequest(t *testing.T) {
	// server-side requests carry only a path; the host comes from the Host header
	req := httptest.NewRequest("GET", "/manifest.json", nil)
	req.URL.Host = ""
	req.URL.Scheme = ""
	req.Host = "app.example.com"

	got := NewRequestKey(req).String()
	want := "GET http://app.example.com/manifest.json"
	if got != want {
		t.Errorf("NewRequestKey() = %v, want %v", got, want)
	}
}

func TestKeyForURL(t *testing.T) {
	key, err := KeyForURL("http://app.example.com/favicon.ico")
	if err != nil {
		t.Fatalf("KeyForURL() error = %v", err)
	}
	req := httptest.NewRequest("GET", "http://app.example.com/favicon.ico", nil)
	if key != NewRequestKey(req) {
		t.Errorf("KeyForURL() = %v, want %v", key, NewRequestKey(req))
	}

	if _, err := KeyForURL("/favicon.ico"); err == nil {
		t.Error("KeyForURL() should reject relative URLs")
	}
}

func TestParseRequestKey(t *testing.T) {
	key := RequestKey{Method: "GET", URL: "http://app.example.com/a?b=c"}
	parsed, err := ParseRequestKey(key.String())
	if err != nil {
		t.Fatalf("ParseRequestKey() error = %v", err)
	}
	if parsed != key {
		t.Errorf("ParseRequestKey() = %v, want %v", parsed, key)
	}

	for _, bad := range []string{"", "GET", " http://x/"} {
		if _, err := ParseRequestKey(bad); err == nil {
			t.Errorf("ParseRequestKey(%q) should fail", bad)
		}
	}
}

// TestRequestKey_Determinism ensures equal requests always produce the same key
func TestRequestKey_Determinism(t *testing.T) {
	first := NewRequestKey(httptest.NewRequest("GET", "http://app.example.com/x?b=2&a=1&c=3", nil)).String()
	for i := 0; i < 10; i++ {
		got := NewRequestKey(httptest.NewRequest("GET", "http://app.example.com/x?b=2&a=1&c=3", nil)).String()
		if got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestRequestKey_DistinctURLs(t *testing.T) {
	pairs := []struct {
		name string
		a, b string
	}{
		{"escaped slash", "/files/a%2Fb", "/files/a/b"},
		{"semicolon query", "/x?id=1;2", "/x?id=3;4"},
		{"invalid escape", "/s?q=%zz", "/s"},
		{"query order", "/search?q=apple&limit=5", "/search?limit=5&q=apple"},
		{"empty query", "/x?", "/x"},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			ka := NewRequestKey(httptest.NewRequest("GET", "http://app.example.com"+tt.a, nil))
			kb := NewRequestKey(httptest.NewRequest("GET", "http://app.example.com"+tt.b, nil))
			if ka == kb {
				t.Errorf("%s and %s share key %v", tt.a, tt.b, ka)
			}
		})
	}
}
