package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/business/server"
	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/gatekeeper"
	"github.com/openkcm/auth-relay/internal/handoff"
	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/nonce"
	"github.com/openkcm/auth-relay/internal/proxy"
	"github.com/openkcm/auth-relay/internal/relay"
	relayvalkey "github.com/openkcm/auth-relay/internal/relay/valkey"
	"github.com/openkcm/auth-relay/internal/session"
	"github.com/openkcm/auth-relay/internal/tenant"
	"github.com/openkcm/auth-relay/internal/tenantdir"
	"github.com/openkcm/auth-relay/internal/tenantdir/tenantsql"
)

// Main starts the HTTP server and the housekeeper
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, store, closeFn, err := initServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the services: %w", err)
	}
	defer closeFn()

	// errChan is used to capture the first error and shutdown the workers.
	errChan := make(chan error, 2)

	// wg is used to wait for all workers to shutdown.
	var wg sync.WaitGroup

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, svc)
	})

	if p, ok := store.(pruner); ok {
		wg.Go(func() {
			errChan <- startHousekeeper(ctx, cfg.Housekeeper.TriggerInterval, p)
		})
	}

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down", "error", err)
	}
	cancel()

	wg.Wait()

	return nil
}

// initServices wires the components behind the HTTP surface. The returned
// function releases the connections they hold.
func initServices(ctx context.Context, cfg *config.Config) (_ *server.Services, _ relay.Store, closeFn func(), _ error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server.Services, relay.Store, func(), error) {
		closeAll()
		return nil, nil, nil, err
	}

	policy := cookiepolicy.New(cfg.Cookies)
	names := policy.Names()

	store, storeClose, err := newRelayStore(cfg)
	if err != nil {
		return fail(fmt.Errorf("creating relay store: %w", err))
	}
	closers = append(closers, storeClose)

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		return fail(fmt.Errorf("loading http client: %w", err))
	}

	idClient, err := identity.NewClient(cfg.Identity, httpClient,
		identity.WithCookieNames(names.AccessToken, names.RefreshToken))
	if err != nil {
		return fail(fmt.Errorf("creating identity client: %w", err))
	}

	var resolverOpts []tenant.ResolverOption
	if len(cfg.Tenancy.ReservedLabels) > 0 {
		resolverOpts = append(resolverOpts, tenant.WithReservedLabels(cfg.Tenancy.ReservedLabels...))
	}

	refresher := session.NewCoalescingRefresher(idClient)

	handoffSvc, err := handoff.NewService(idClient, store, nonce.Source{}, policy, cfg.Tenancy.BaseURL,
		handoff.WithFingerprintBinding(cfg.Relay.BindFingerprint),
		handoff.WithLoginPath(cfg.Gatekeeper.LoginPath),
		handoff.WithResolverOptions(resolverOpts...),
	)
	if err != nil {
		return fail(fmt.Errorf("creating handoff service: %w", err))
	}
	resolver := handoffSvc.Resolver()

	credentials := session.NewCookieSource(
		session.NewLifecycle(refresher, session.WithTransitionHook(server.RecordTransition)),
		session.CookieNames{AccessToken: names.AccessToken, RefreshToken: names.RefreshToken},
		resolver,
	)

	gkOpts := []gatekeeper.Option{
		gatekeeper.WithLoginPath(cfg.Gatekeeper.LoginPath),
		gatekeeper.WithPublicPaths(cfg.Gatekeeper.PublicPaths...),
		gatekeeper.WithDecisionHook(server.RecordDecision),
	}
	if cfg.TenantDirectory.Enabled {
		dir, dirClose, err := tenantDirectoryFromConfig(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, dirClose)
		gkOpts = append(gkOpts, gatekeeper.WithTenantChecker(dir))
	}

	gk, err := gatekeeper.New(idClient, refresher, policy, resolver, cfg.Tenancy.BaseURL, gkOpts...)
	if err != nil {
		return fail(fmt.Errorf("creating gatekeeper: %w", err))
	}

	svc := &server.Services{
		Resolver:    resolver,
		Policy:      policy,
		Handoff:     handoffSvc,
		Logouter:    idClient,
		Refresher:   refresher,
		Credentials: credentials,
		Gatekeeper:  gk,
	}

	upstreamTransport := otelhttp.NewTransport(http.DefaultTransport)

	if cfg.Upstreams.API != "" {
		svc.API, err = proxy.NewSession(cfg.Upstreams.API, credentials, policy, upstreamTransport)
		if err != nil {
			return fail(fmt.Errorf("creating API proxy: %w", err))
		}
	}

	if cfg.Upstreams.App != "" {
		app, err := proxy.NewPassthrough(cfg.Upstreams.App, upstreamTransport)
		if err != nil {
			return fail(fmt.Errorf("creating app proxy: %w", err))
		}
		svc.App = app
	}

	return svc, store, closeAll, nil
}

func newRelayStore(cfg *config.Config) (relay.Store, func(), error) {
	switch cfg.Relay.Store {
	case config.RelayStoreValkey:
		client, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		return relayvalkey.NewStore(client, cfg.ValKey.Prefix, relayvalkey.WithTTL(cfg.Relay.TTL)), client.Close, nil
	case config.RelayStoreMemory, "":
		return relay.NewMemoryStore(relay.WithTTL(cfg.Relay.TTL)), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown relay store %q", cfg.Relay.Store)
	}
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

func tenantDirectoryFromConfig(ctx context.Context, cfg *config.Config) (*tenantdir.Service, func(), error) {
	db, err := newDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	dir := tenantdir.NewService(tenantsql.NewRepository(db), tenantdir.WithCacheTTL(cfg.TenantDirectory.CacheTTL))

	return dir, db.Close, nil
}

func newDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}

// loadHTTPClient returns the client used towards the identity backend.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	clientAuth := cfg.Identity.ClientAuth

	switch clientAuth.Type {
	case "mtls":
		tlsConfig, err := commoncfg.LoadMTLSConfig(clientAuth.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}

		return &http.Client{
			Transport: otelhttp.NewTransport(&clientAuthRoundTripper{
				clientID: clientAuth.ClientID,
				next: &http.Transport{
					TLSClientConfig: tlsConfig,
				},
			}),
		}, nil
	case "client_secret":
		secret, err := commoncfg.LoadValueFromSourceRef(clientAuth.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("loading client secret: %w", err)
		}

		return &http.Client{
			Transport: otelhttp.NewTransport(&clientAuthRoundTripper{
				clientID:     clientAuth.ClientID,
				clientSecret: string(secret),
				next:         http.DefaultTransport,
			}),
		}, nil
	case "insecure", "":
		return &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}, nil
	default:
		return nil, errors.New("unknown Client Auth type")
	}
}

// clientAuthRoundTripper identifies the relay as a client of the identity
// backend.
type clientAuthRoundTripper struct {
	clientID     string
	clientSecret string
	next         http.RoundTripper
}

func (t *clientAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.clientID == "" {
		return t.next.RoundTrip(req)
	}

	out := req.Clone(req.Context())

	q := out.URL.Query()
	q.Set("client_id", t.clientID)
	if t.clientSecret != "" {
		q.Set("client_secret", t.clientSecret)
	}
	out.URL.RawQuery = q.Encode()

	return t.next.RoundTrip(out)
}
