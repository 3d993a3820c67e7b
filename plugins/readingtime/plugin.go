// Package readingtime estimates how long a post takes to read.
package readingtime

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httputil"
	"github.com/echoes-blog/echoes/internal/plugin"
	"github.com/echoes-blog/echoes/internal/serial"
)

const defaultWPM = 200

var manifest = plugin.Manifest{
	Name:        "readingtime",
	Version:     "1.0.0",
	DisplayName: "Reading time",
	Description: "Adds an estimated reading time to posts",
	Author:      "Echoes",
	Configuration: serial.Configuration{
		"wordsPerMinute": {
			Title: "Words per minute",
			Data:  serial.Number(defaultWPM),
		},
	},
	Routes: []plugin.RouteRef{
		{Path: "/estimate", Description: "Estimate the reading time of a text"},
	},
}

type ReadingTimePlugin struct {
	host atomic.Pointer[plugin.Host]
}

func New() *ReadingTimePlugin {
	return &ReadingTimePlugin{}
}

func (p *ReadingTimePlugin) ID() string {
	return manifest.Name
}

func (p *ReadingTimePlugin) Manifest() plugin.Manifest {
	return manifest
}

// Minutes is the reading time of text at wpm words per minute, rounded up.
// Any non-empty text takes at least a minute.
func Minutes(text string, wpm int) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	if wpm <= 0 {
		wpm = defaultWPM
	}
	return int(math.Ceil(float64(words) / float64(wpm)))
}

func (p *ReadingTimePlugin) wpm() int {
	cfg := manifest.Configuration
	if host := p.host.Load(); host != nil && host.Extensions != nil {
		if c, ok := host.Extensions.Configuration(manifest.Name); ok {
			cfg = c
		}
	}
	if f, ok := cfg.Data("wordsPerMinute").Float(); ok && f >= 1 {
		return int(f)
	}
	return defaultWPM
}

func textArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing text argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("text argument must be a string, got %T", args[0])
	}
	return s, nil
}

func (p *ReadingTimePlugin) Capabilities() []capability.Capability {
	return []capability.Capability{
		{
			Name:        "readingTime",
			Description: "Returns the reading time of a text in minutes",
			Execute: func(_ context.Context, args ...any) (any, error) {
				text, err := textArg(args)
				if err != nil {
					return nil, err
				}
				return Minutes(text, p.wpm()), nil
			},
		},
	}
}

func (p *ReadingTimePlugin) Extensions() []plugin.Contribution {
	return []plugin.Contribution{
		{
			Point: "post.meta",
			Extension: extension.Extension{
				Text: func(_ context.Context, args ...any) (any, error) {
					text, err := textArg(args)
					if err != nil {
						return nil, err
					}
					n := Minutes(text, p.wpm())
					if n == 0 {
						return "", nil
					}
					return fmt.Sprintf("%d min read", n), nil
				},
			},
		},
	}
}

type estimateRequest struct {
	Text string `json:"text"`
}

type estimateResponse struct {
	Words   int `json:"words"`
	Minutes int `json:"minutes"`
}

func (p *ReadingTimePlugin) RegisterRoutes(router *mux.Router, _ *plugin.Host) {
	router.HandleFunc("/estimate", func(w http.ResponseWriter, r *http.Request) {
		var req estimateRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, estimateResponse{
			Words:   len(strings.Fields(req.Text)),
			Minutes: Minutes(req.Text, p.wpm()),
		})
	}).Methods("POST")
}

func (p *ReadingTimePlugin) OnEnable(_ context.Context, host *plugin.Host) error {
	p.host.Store(host)
	host.Logger.WithField("wpm", p.wpm()).Info("readingtime: plugin enabled")
	return nil
}

func (p *ReadingTimePlugin) OnDisable(_ context.Context, host *plugin.Host) error {
	p.host.Store(nil)
	return nil
}
