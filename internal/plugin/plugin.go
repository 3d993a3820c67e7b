package plugin

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/capability"
	"github.com/echoes-blog/echoes/internal/extension"
	"github.com/echoes-blog/echoes/internal/httpclient"
)

// Contribution attaches an extension to a named point.
type Contribution struct {
	Point     string
	Extension extension.Extension
}

// Host is what the engine hands to plugins when they start.
type Host struct {
	HTTP       *httpclient.Client
	Messenger  *Messenger
	Extensions *extension.Registry
	Logger     logrus.FieldLogger
}

// Plugin defines the interface that all plugins must implement.
type Plugin interface {
	ID() string
	Manifest() Manifest
	Capabilities() []capability.Capability
	Extensions() []Contribution
	RegisterRoutes(router *mux.Router, host *Host)
	OnEnable(ctx context.Context, host *Host) error
	OnDisable(ctx context.Context, host *Host) error
}
