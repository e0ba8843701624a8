package business

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/relay"
)

func validConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
		},
		Tenancy: config.Tenancy{
			BaseURL: "http://localhost:3000",
		},
		Relay: config.Relay{
			Store: config.RelayStoreMemory,
			TTL:   30 * time.Second,
		},
		Identity: config.Identity{
			BaseURL: "http://127.0.0.1:1",
			ClientAuth: config.ClientAuth{
				Type: "insecure",
			},
		},
		Upstreams: config.Upstreams{
			App:       "http://127.0.0.1:2",
			API:       "http://127.0.0.1:3",
			APIPrefix: "/api/",
		},
		Housekeeper: config.Housekeeper{
			TriggerInterval: 10 * time.Millisecond,
		},
	}
}

func invalidDatabase() config.Database {
	return config.Database{
		Host:     commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
		Port:     "5432",
		Name:     "testdb",
		User:     commoncfg.SourceRef{Source: "embedded", Value: "user"},
		Password: commoncfg.SourceRef{Source: "embedded", Value: "pass"},
	}
}

func TestLoadHTTPClient_MTLS(t *testing.T) {
	cfg := &config.Config{
		Identity: config.Identity{
			ClientAuth: config.ClientAuth{
				Type:     "mtls",
				ClientID: "test-client",
				MTLS: &commoncfg.MTLS{
					Cert:    commoncfg.SourceRef{File: commoncfg.CredentialFile{Path: "/nonexistent/cert.pem"}},
					CertKey: commoncfg.SourceRef{File: commoncfg.CredentialFile{Path: "/nonexistent/key.pem"}},
				},
			},
		},
	}

	// This will fail without actual cert files, but tests the logic path
	_, err := loadHTTPClient(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "loading mTLS config")
}

func TestLoadHTTPClient_ClientSecret(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &config.Config{
		Identity: config.Identity{
			ClientAuth: config.ClientAuth{
				Type:         "client_secret",
				ClientID:     "test-client",
				ClientSecret: commoncfg.SourceRef{Source: "embedded", Value: "test-secret"},
			},
		},
	}

	client, err := loadHTTPClient(cfg)
	require.NoError(t, err)
	require.NotNil(t, client)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL+"/auth/me", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "test-client", query.Get("client_id"))
	assert.Equal(t, "test-secret", query.Get("client_secret"))
}

func TestLoadHTTPClient_Insecure(t *testing.T) {
	for _, authType := range []string{"insecure", ""} {
		t.Run("type "+authType, func(t *testing.T) {
			cfg := &config.Config{
				Identity: config.Identity{
					ClientAuth: config.ClientAuth{
						Type: authType,
					},
				},
			}

			client, err := loadHTTPClient(cfg)
			require.NoError(t, err)
			assert.NotNil(t, client.Transport)
		})
	}
}

func TestLoadHTTPClient_UnknownType(t *testing.T) {
	cfg := &config.Config{
		Identity: config.Identity{
			ClientAuth: config.ClientAuth{
				Type:     "unknown",
				ClientID: "test-client",
			},
		},
	}

	_, err := loadHTTPClient(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown Client Auth type")
}

func TestClientAuthRoundTripper_RoundTrip(t *testing.T) {
	tests := []struct {
		name              string
		clientID          string
		clientSecret      string
		requestURL        string
		expectedClientID  string
		expectedHasSecret bool
		expectedSecretVal string
	}{
		{
			name:              "With client secret",
			clientID:          "my-client",
			clientSecret:      "my-secret",
			requestURL:        "https://example.com/token",
			expectedClientID:  "my-client",
			expectedHasSecret: true,
			expectedSecretVal: "my-secret",
		},
		{
			name:              "Without client secret",
			clientID:          "my-client",
			clientSecret:      "",
			requestURL:        "https://example.com/token",
			expectedClientID:  "my-client",
			expectedHasSecret: false,
		},
		{
			name:              "With existing query params",
			clientID:          "my-client",
			clientSecret:      "my-secret",
			requestURL:        "https://example.com/token?foo=bar",
			expectedClientID:  "my-client",
			expectedHasSecret: true,
			expectedSecretVal: "my-secret",
		},
		{
			name:             "Without client id",
			requestURL:       "https://example.com/token?foo=bar",
			expectedClientID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a test server that captures the request
			var capturedReq *http.Request
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedReq = r
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			rt := &clientAuthRoundTripper{
				clientID:     tt.clientID,
				clientSecret: tt.clientSecret,
				next:         http.DefaultTransport,
			}

			reqURL, err := url.Parse(tt.requestURL)
			require.NoError(t, err)

			// Update URL to point to test server
			reqURL.Scheme = "http"
			reqURL.Host = server.Listener.Addr().String()

			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, reqURL.String(), nil)
			require.NoError(t, err)
			originalQuery := req.URL.RawQuery

			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			require.NotNil(t, capturedReq)
			query := capturedReq.URL.Query()

			assert.Equal(t, tt.expectedClientID, query.Get("client_id"))

			if tt.expectedHasSecret {
				assert.Equal(t, tt.expectedSecretVal, query.Get("client_secret"))
			} else {
				assert.Empty(t, query.Get("client_secret"))
			}

			if reqURL.Query().Has("foo") {
				assert.Equal(t, "bar", query.Get("foo"))
			}

			// The caller's request is left untouched.
			assert.Equal(t, originalQuery, req.URL.RawQuery)
		})
	}
}

func TestValkeyClientFromConfig(t *testing.T) {
	missing := commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}}
	host := commoncfg.SourceRef{Source: "embedded", Value: "localhost:6379"}
	user := commoncfg.SourceRef{Source: "embedded", Value: "user"}
	pass := commoncfg.SourceRef{Source: "embedded", Value: "pass"}

	tests := []struct {
		name    string
		valkey  config.ValKey
		wantErr string
	}{
		{
			name:    "invalid host ref",
			valkey:  config.ValKey{Host: missing, User: user, Password: pass},
			wantErr: "loading valkey host",
		},
		{
			name:    "invalid user ref",
			valkey:  config.ValKey{Host: host, User: missing, Password: pass},
			wantErr: "loading valkey username",
		},
		{
			name:    "invalid password ref",
			valkey:  config.ValKey{Host: host, User: user, Password: missing},
			wantErr: "loading valkey password",
		},
		{
			name: "invalid mTLS secret",
			valkey: config.ValKey{
				Host:     host,
				User:     user,
				Password: pass,
				SecretRef: commoncfg.SecretRef{
					Type: commoncfg.MTLSSecretType,
					MTLS: commoncfg.MTLS{
						Cert:    missing,
						CertKey: missing,
					},
				},
			},
			wantErr: "loading valkey mTLS config from secret ref",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := valkeyClientFromConfig(&config.Config{ValKey: tt.valkey})
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRelayStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		for _, kind := range []config.RelayStoreType{config.RelayStoreMemory, ""} {
			store, closeFn, err := newRelayStore(&config.Config{Relay: config.Relay{Store: kind}})
			require.NoError(t, err)
			assert.IsType(t, &relay.MemoryStore{}, store)
			closeFn()
		}
	})

	t.Run("valkey with invalid host", func(t *testing.T) {
		cfg := &config.Config{
			Relay: config.Relay{Store: config.RelayStoreValkey},
			ValKey: config.ValKey{
				Host: commoncfg.SourceRef{Source: "file", File: commoncfg.CredentialFile{Path: "/nonexistent/file"}},
			},
		}

		_, _, err := newRelayStore(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "loading valkey host")
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := newRelayStore(&config.Config{Relay: config.Relay{Store: "etcd"}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), `unknown relay store "etcd"`)
	})
}

func TestInitServices(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		svc, store, closeFn, err := initServices(t.Context(), validConfig())
		require.NoError(t, err)
		defer closeFn()

		assert.NotNil(t, svc.Handoff)
		assert.NotNil(t, svc.Gatekeeper)
		assert.NotNil(t, svc.Credentials)
		assert.NotNil(t, svc.API)
		assert.NotNil(t, svc.App)
		assert.Equal(t, "localhost", svc.Resolver.BaseDomain())
		assert.IsType(t, &relay.MemoryStore{}, store)
	})

	t.Run("without upstreams", func(t *testing.T) {
		cfg := validConfig()
		cfg.Upstreams = config.Upstreams{}

		svc, _, closeFn, err := initServices(t.Context(), cfg)
		require.NoError(t, err)
		defer closeFn()

		assert.Nil(t, svc.API)
		assert.Nil(t, svc.App)
	})

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:    "unknown relay store",
			mutate:  func(cfg *config.Config) { cfg.Relay.Store = "etcd" },
			wantErr: "creating relay store",
		},
		{
			name:    "invalid client auth",
			mutate:  func(cfg *config.Config) { cfg.Identity.ClientAuth.Type = "invalid-type" },
			wantErr: "loading http client",
		},
		{
			name:    "missing identity backend",
			mutate:  func(cfg *config.Config) { cfg.Identity.BaseURL = "" },
			wantErr: "creating identity client",
		},
		{
			name:    "relative base URL",
			mutate:  func(cfg *config.Config) { cfg.Tenancy.BaseURL = "/relative" },
			wantErr: "creating handoff service",
		},
		{
			name: "tenant directory without database",
			mutate: func(cfg *config.Config) {
				cfg.TenantDirectory.Enabled = true
				cfg.Database = invalidDatabase()
			},
			wantErr: "making dsn from config",
		},
		{
			name:    "relative API upstream",
			mutate:  func(cfg *config.Config) { cfg.Upstreams.API = "/api" },
			wantErr: "creating API proxy",
		},
		{
			name:    "relative app upstream",
			mutate:  func(cfg *config.Config) { cfg.Upstreams.App = "app" },
			wantErr: "creating app proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			svc, store, closeFn, err := initServices(t.Context(), cfg)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, svc)
			assert.Nil(t, store)
			assert.Nil(t, closeFn)
		})
	}
}

func TestMain_InvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.ClientAuth.Type = "invalid-type"

	err := Main(t.Context(), cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "initialising the services")
}

func TestMain_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		done <- Main(ctx, validConfig())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Main did not return after cancellation")
	}
}
