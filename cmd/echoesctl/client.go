package main

import (
	"fmt"

	"github.com/echoes-blog/echoes/internal/auth"
	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
)

// client builds an API client for the site named by --server. The admin
// token, when given, is attached to every request.
func (f *globalFlags) client() (*httpclient.Client, error) {
	if f.server == "" {
		return nil, fmt.Errorf("--server is required or set ECHOES_SERVER")
	}
	tokens := auth.NewMemoryStore()
	if f.token != "" {
		if err := tokens.SetToken(f.token); err != nil {
			return nil, err
		}
	}
	return httpclient.New(httpclient.Options{
		APIBaseURL: f.server,
		Tokens:     tokens,
		Logger:     logging.Discard(),
	}), nil
}
