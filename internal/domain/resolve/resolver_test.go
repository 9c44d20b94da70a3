package resolve

import (
	"net/http"
	"testing"
)

func TestResolve_PrefersExplicitSessionID(t *testing.T) {
	r := New("proxy")
	id, generated := r.Resolve(Request{SessionID: "abc", Header: http.Header{}})
	if id != "abc" || generated {
		t.Fatalf("got (%q, %v), want (\"abc\", false)", id, generated)
	}
}

func TestResolve_FallsBackToHeader(t *testing.T) {
	r := New("proxy")
	h := http.Header{}
	h.Set("X-Session-Id", "hdr-1")
	id, generated := r.Resolve(Request{Header: h})
	if id != "hdr-1" || generated {
		t.Fatalf("got (%q, %v), want (\"hdr-1\", false)", id, generated)
	}
}

func TestResolve_FallsBackToCookie(t *testing.T) {
	r := New("proxy")
	req := Request{
		Header:  http.Header{},
		Cookies: []*http.Cookie{{Name: "session_id", Value: "cookie-1"}},
	}
	id, generated := r.Resolve(req)
	if id != "cookie-1" || generated {
		t.Fatalf("got (%q, %v), want (\"cookie-1\", false)", id, generated)
	}
}

func TestResolve_GeneratesWithPrefix(t *testing.T) {
	r := New("myproxy")
	id, generated := r.Resolve(Request{Header: http.Header{}})
	if !generated {
		t.Fatal("expected generated=true")
	}
	if len(id) <= len("myproxy-") || id[:len("myproxy-")] != "myproxy-" {
		t.Fatalf("expected id prefixed with %q, got %q", "myproxy-", id)
	}
}

func TestResolve_GeneratedIDsAreUnique(t *testing.T) {
	r := New("proxy")
	id1, _ := r.Resolve(Request{Header: http.Header{}})
	id2, _ := r.Resolve(Request{Header: http.Header{}})
	if id1 == id2 {
		t.Fatal("expected distinct generated ids across requests")
	}
}
