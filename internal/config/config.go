// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database        Database        `yaml:"database"`
	ValKey          ValKey          `yaml:"valkey"`
	Tenancy         Tenancy         `yaml:"tenancy"`
	Relay           Relay           `yaml:"relay"`
	Cookies         Cookies         `yaml:"cookies"`
	Identity        Identity        `yaml:"identity"`
	Gatekeeper      Gatekeeper      `yaml:"gatekeeper"`
	Upstreams       Upstreams       `yaml:"upstreams"`
	TenantDirectory TenantDirectory `yaml:"tenantDirectory"`
	Housekeeper     Housekeeper     `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	SSLMode  string              `yaml:"sslMode"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"auth-relay"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

// Tenancy describes how tenants are derived from request hosts.
type Tenancy struct {
	// BaseURL is the public origin of the shared entry point,
	// e.g. https://example.com or http://localhost:3000.
	BaseURL string `yaml:"baseURL" default:"http://localhost:3000"`
	// ReservedLabels never name a tenant.
	ReservedLabels []string `yaml:"reservedLabels"`
}

type RelayStoreType string

const (
	RelayStoreMemory RelayStoreType = "memory"
	RelayStoreValkey RelayStoreType = "valkey"
)

type Relay struct {
	Store           RelayStoreType `yaml:"store" default:"memory"`
	TTL             time.Duration  `yaml:"ttl" default:"30s"`
	BindFingerprint bool           `yaml:"bindFingerprint" default:"true"`
}

type Cookies struct {
	// SharedDomain is set as the Domain attribute on non loopback hosts,
	// e.g. .example.com
	SharedDomain       string         `yaml:"sharedDomain"`
	RefreshTokenMaxAge time.Duration  `yaml:"refreshTokenMaxAge" default:"168h"`
	AccessToken        CookieTemplate `yaml:"accessToken"`
	RefreshToken       CookieTemplate `yaml:"refreshToken"`
	TenantHint         CookieTemplate `yaml:"tenantHint"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name"`
	Path     string         `yaml:"path"`
	Domain   string         `yaml:"domain"`
	MaxAge   int            `yaml:"maxAge"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite"`
}

type Identity struct {
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout" default:"10s"`
	Paths      IdentityPaths `yaml:"paths"`
	ClientAuth ClientAuth    `yaml:"clientAuth"`
}

type IdentityPaths struct {
	Login   string `yaml:"login" default:"/auth/login"`
	Refresh string `yaml:"refresh" default:"/auth/refresh"`
	WhoAmI  string `yaml:"whoami" default:"/auth/me"`
	Logout  string `yaml:"logout" default:"/auth/logout"`
}

type ClientAuth struct {
	Type         string              `yaml:"type" default:"insecure"`
	ClientID     string              `yaml:"clientID"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	MTLS         *commoncfg.MTLS     `yaml:"mTLS"`
}

type Gatekeeper struct {
	// LoginPath is the login page on the base origin.
	LoginPath   string   `yaml:"loginPath" default:"/login"`
	PublicPaths []string `yaml:"publicPaths"`
}

type Upstreams struct {
	// App receives every request the gatekeeper lets through.
	App string `yaml:"app"`
	// API receives the /api/ catch-all with the bearer credential attached.
	API       string `yaml:"api"`
	APIPrefix string `yaml:"apiPrefix" default:"/api/"`
}

type TenantDirectory struct {
	Enabled  bool          `yaml:"enabled"`
	CacheTTL time.Duration `yaml:"cacheTTL" default:"1m"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1m"`
}
