package ai

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type PoolConfig struct {
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	ConnectTimeout time.Duration
}

// Pool is the shared upstream HTTP client. Connections are capped per host,
// closed after IdleTimeout of idleness, and the whole idle set is flushed
// every MaxLifetime so no connection is reused past that age plus one
// exchange.
type Pool struct {
	Client    *http.Client
	transport *http.Transport
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 20
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxConns,
		MaxIdleConnsPerHost:   cfg.MaxConns,
		MaxConnsPerHost:       cfg.MaxConns,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
	}

	p := &Pool{
		// no Client.Timeout: it would cut long streams; callers bound each
		// exchange with a context deadline instead
		Client:    &http.Client{Transport: tr},
		transport: tr,
		stop:      make(chan struct{}),
	}
	if cfg.MaxLifetime > 0 {
		go p.recycle(cfg.MaxLifetime)
	}
	return p
}

func (p *Pool) recycle(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.transport.CloseIdleConnections()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.transport.CloseIdleConnections()
	})
}
