package agent

import (
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/Sternrassler/offline-cache-agent/pkg/client"
)

// HeaderSource carries the Source of every intercepted response.
const HeaderSource = "X-Cache-Agent"

// Handler returns an http.Handler that serves requests through Fetch.
// Requests the agent does not intercept go to the origin through a reverse proxy.
func (a *Agent) Handler() http.Handler {
	proxy := NewPassThrough(a.config.Origin)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := a.Fetch(r.Context(), r)
		if !res.Intercepted {
			proxy.ServeHTTP(w, r)
			return
		}
		WriteResponse(w, res.Response, res.Source)
	})
}

// NewPassThrough returns a reverse proxy forwarding requests to origin untouched.
func NewPassThrough(origin *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
	}
}

// WriteResponse copies resp to w without hop-by-hop headers and tags it with its source.
func WriteResponse(w http.ResponseWriter, resp *http.Response, source Source) {
	defer resp.Body.Close()

	src := resp.Header.Clone()
	if src == nil {
		src = http.Header{}
	}
	client.RemoveHopHeaders(src)

	header := w.Header()
	for name, values := range src {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	header.Set(HeaderSource, string(source))
	header.Add("Access-Control-Expose-Headers", HeaderSource)

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
