// Package template renders mailing bodies and subjects with the Liquid
// template language, giving each receiver personalized content.
package template

import (
	"crypto/md5"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/osteele/liquid"
)

// Renderer renders a template source against a per-receiver context.
type Renderer interface {
	Render(source string, context map[string]interface{}) (string, error)
}

// LiquidRenderer is the production Renderer: Liquid with parsed-template
// caching and an external_content filter that fetches a URL and splices
// its body into the output.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5 of source -> *liquid.Template

	httpClient *http.Client
	external   sync.Map // url -> string
}

// NewLiquidRenderer creates a renderer with the custom filters
// registered.
func NewLiquidRenderer() *LiquidRenderer {
	r := &LiquidRenderer{
		engine:     liquid.NewEngine(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	// {{ "https://example.com/banner.html" | external_content }}
	// Fetched once per process and cached; failures render as empty so a
	// flaky remote cannot take a whole mailing down.
	r.engine.RegisterFilter("external_content", func(url string) string {
		return r.fetchExternal(url)
	})

	return r
}

// Render parses the source (cached by content hash) and renders it with
// the given bindings.
func (r *LiquidRenderer) Render(source string, context map[string]interface{}) (string, error) {
	key := md5.Sum([]byte(source))
	cached, ok := r.cache.Load(key)
	if !ok {
		tpl, err := r.engine.ParseString(source)
		if err != nil {
			return "", err
		}
		cached, _ = r.cache.LoadOrStore(key, tpl)
	}
	return cached.(*liquid.Template).RenderString(context)
}

func (r *LiquidRenderer) fetchExternal(url string) string {
	if cached, ok := r.external.Load(url); ok {
		return cached.(string)
	}
	resp, err := r.httpClient.Get(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	content := string(body)
	r.external.Store(url, content)
	return content
}
