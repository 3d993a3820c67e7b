// Package credit adds a footer credit line and counts page views.
package credit

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/module"
	"github.com/echoes-blog/echoes/internal/plugin"
	"github.com/echoes-blog/echoes/internal/serial"
)

const defaultText = "Built with Echoes"

var manifest = plugin.Manifest{
	Name:        "credit",
	Version:     "1.0.0",
	DisplayName: "Credit",
	Description: "Shows a credit line in the footer and counts page views",
	Author:      "Echoes",
	ManagePath:  "/api/plugins/credit/views",
	Configuration: serial.Configuration{
		"text": {
			Title:       "Credit text",
			Description: "Shown in the site footer",
			Data:        serial.String(defaultText),
		},
		"countErrors": {
			Title:       "Count error pages",
			Description: "Also count responses with a status of 400 or above",
			Data:        serial.Bool(false),
		},
	},
	Routes: []plugin.RouteRef{
		{Path: "/views", Description: "Page views per path"},
	},
}

type CreditPlugin struct {
	mu     sync.Mutex
	views  map[string]int
	host   *plugin.Host
	cancel func()
}

func New() *CreditPlugin {
	return &CreditPlugin{views: make(map[string]int)}
}

func (p *CreditPlugin) ID() string {
	return manifest.Name
}

func (p *CreditPlugin) Manifest() plugin.Manifest {
	return manifest
}

func (p *CreditPlugin) Capabilities() []capability.Capability {
	return []capability.Capability{
		{
			Name:        "pageViews",
			Description: "Returns the view count of a path, or the total without one",
			Execute: func(_ context.Context, args ...any) (any, error) {
				if len(args) > 0 {
					if path, ok := args[0].(string); ok {
						return p.count(path), nil
					}
				}
				return p.total(), nil
			},
		},
	}
}

func (p *CreditPlugin) Extensions() []plugin.Contribution {
	return []plugin.Contribution{
		{
			Point: "footer.credit",
			Extension: extension.Extension{
				Text: func(context.Context, ...any) (any, error) {
					if s, ok := p.setting("text").Str(); ok && s != "" {
						return s, nil
					}
					return defaultText, nil
				},
			},
		},
		{
			Point: module.ActionPageView,
			Extension: extension.Extension{
				Action: func(_ context.Context, args ...any) (any, error) {
					if len(args) < 2 {
						return nil, nil
					}
					path, _ := args[0].(string)
					if status, ok := args[1].(int); ok && status >= http.StatusBadRequest {
						if countErrors, _ := p.setting("countErrors").Boolean(); !countErrors {
							return nil, nil
						}
					}
					p.record(path)
					return nil, nil
				},
			},
		},
	}
}

func (p *CreditPlugin) RegisterRoutes(router *mux.Router, _ *plugin.Host) {
	router.HandleFunc("/views", p.listViews).Methods("GET")
}

type viewCount struct {
	Path  string `json:"path"`
	Views int    `json:"views"`
}

func (p *CreditPlugin) listViews(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	out := make([]viewCount, 0, len(p.views))
	for path, n := range p.views {
		out = append(out, viewCount{Path: path, Views: n})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].Path < out[j].Path
	})
	httputil.WriteJSON(w, http.StatusOK, out)
}

type command struct {
	Reset bool `json:"reset"`
}

// OnEnable listens for {"reset":true} from other plugins.
func (p *CreditPlugin) OnEnable(_ context.Context, host *plugin.Host) error {
	cancel, err := host.Messenger.Listen(manifest.Name, func(msg plugin.Message) {
		var cmd command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil || !cmd.Reset {
			return
		}
		p.mu.Lock()
		p.views = make(map[string]int)
		p.mu.Unlock()
		host.Logger.WithField("from", msg.From).Info("credit: page views reset")
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.host = host
	p.cancel = cancel
	p.mu.Unlock()
	return nil
}

func (p *CreditPlugin) OnDisable(context.Context, *plugin.Host) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (p *CreditPlugin) setting(key string) serial.Value {
	p.mu.Lock()
	host := p.host
	p.mu.Unlock()

	if host != nil && host.Extensions != nil {
		if cfg, ok := host.Extensions.Configuration(manifest.Name); ok {
			return cfg.Data(key)
		}
	}
	return manifest.Configuration.Data(key)
}

func (p *CreditPlugin) record(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views[path]++
}

func (p *CreditPlugin) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.views[path]
}

func (p *CreditPlugin) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.views {
		n += v
	}
	return n
}
