package config

import (
	"time"

	"github.com/ardanlabs/conf/v3"
)

type Config struct {
	conf.Version
	Web    Web
	DB     DB
	Log    Log
	Cors   Cors
	Auth   Auth
	Orders Orders
	Rate   Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:storefront"`
	MaxIdleConns int    `conf:"default:5"`
	MaxOpenConns int    `conf:"default:25"`
	DisableTLS   bool   `conf:"default:true"`
}

type Log struct {
	Level  string `conf:"default:info"`
	Format string `conf:"default:json"`
}

type Cors struct {
	Origin string
}

// Auth points at the OpenID Connect issuer whose tokens are accepted as
// bearer credentials. An empty ClientID disables the audience check.
type Auth struct {
	Issuer           string        `conf:"required"`
	ClientID         string
	DiscoveryTimeout time.Duration `conf:"default:10s"`
}

type Orders struct {
	AllowNegativeStock bool `conf:"default:false"`
}

type Rate struct {
	CheckoutBurst    int           `conf:"default:3"`
	CheckoutInterval time.Duration `conf:"default:2s"`
	Expiry           time.Duration `conf:"default:10m"`
}
