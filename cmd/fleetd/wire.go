package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/fleetlab/fleetlab/pkg/apiserver"
	"github.com/fleetlab/fleetlab/pkg/audit"
	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
	"github.com/fleetlab/fleetlab/pkg/config"
	"github.com/fleetlab/fleetlab/pkg/hostproxy"
	"github.com/fleetlab/fleetlab/pkg/lock"
	"github.com/fleetlab/fleetlab/pkg/metrics"
	"github.com/fleetlab/fleetlab/pkg/navcache"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/navvalidate"
	"github.com/fleetlab/fleetlab/pkg/pathfind"
	"github.com/fleetlab/fleetlab/pkg/reference"
	"github.com/fleetlab/fleetlab/pkg/translate"
	"github.com/fleetlab/fleetlab/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
)

// app bundles every long-lived component the serve command starts and
// shuts down, mirroring the teacher's App struct in cmd/newtron holding
// shared CLI state — here it holds shared server state instead.
type app struct {
	router  *apiserver.Deps
	lock    *lock.Manager
	audit   *audit.FileLogger
	hosts   *hostproxy.StaticResolver
	closers []func() error
}

// buildApp constructs every §4 component from cfg and wires them into the
// apiserver.Deps the HTTP router dispatches against. Unconfigured optional
// backends (Redis, Postgres, S3, LLM service) fall back to in-memory or
// filesystem implementations so fleetd runs standalone for local testing —
// the same nil-is-unconfigured posture apiserver.Deps itself documents.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{hosts: hostproxy.NewStaticResolver(nil)}

	var treeStore navtree.Store
	var cmdStore cmdregistry.Store
	var refMeta reference.Metadata
	var phrases navtree.PhraseStore

	if cfg.PostgresDSN != "" {
		pg, err := navtree.OpenPG(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("fleetd: opening navigation graph store: %w", err)
		}
		treeStore = pg
		a.closers = append(a.closers, pg.Close)

		pgCmds, err := navtree.NewPGCommandStore(pg.DB())
		if err != nil {
			return nil, err
		}
		cmdStore = pgCmds

		pgPhrases, err := navtree.NewPGPhraseStore(pg.DB())
		if err != nil {
			return nil, err
		}
		phrases = pgPhrases

		pgRefs, err := reference.NewPGMetadata(pg.DB())
		if err != nil {
			return nil, err
		}
		refMeta = pgRefs
	} else {
		util.Warn("fleetd: no postgres_dsn configured, running with in-memory stores")
		treeStore = navtree.NewMemStore()
		cmdStore = navtree.NewMemCommandStore()
		phrases = navtree.NewMemPhraseStore()
		refMeta = reference.NewMemMetadata()
	}

	var redisClient *redis.Client
	var navRedis *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: 0})
		navRedis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: 1})
	} else {
		util.Warn("fleetd: no redis_addr configured, leases and the navigation cache are process-local only")
	}

	reg := metrics.New(prometheus.DefaultRegisterer)

	lockCfg := lock.Config{TTLSeconds: cfg.GetLeaseTTLSeconds(), GraceFactor: cfg.GetLeaseGraceFactor()}
	lockMgr := lock.New(redisClient, lockCfg, &leaseGauge{reg: reg})
	a.lock = lockMgr

	cache := navcache.New(treeStore.(navcache.Loader), navRedis)
	graph := navtree.New(treeStore, cache)
	registry := cmdregistry.New(cmdStore)
	graph.SetValidator(&writeValidator{v: navvalidate.New(registry)})
	finder := pathfind.New(cache)

	var artifacts reference.ArtifactStore
	if cfg.S3Bucket != "" {
		s3Store, err := reference.NewS3ArtifactStore(ctx, cfg.S3Bucket, cfg.S3BaseURL, cfg.S3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("fleetd: opening S3 artifact store: %w", err)
		}
		artifacts = s3Store
	} else {
		util.Warn("fleetd: no s3_bucket configured, reference artifacts use local filesystem storage")
		artifacts = reference.NewFSArtifactStore(cfg.GetCaptureRoot()+"/references", cfg.ServerURL+"/artifacts")
	}
	refStore := reference.New(refMeta, artifacts, nil)

	hostProxy := hostproxy.New(a.hosts, &leaseChecker{lockMgr}, cfg.GetHostProxyRetries(), 0)
	hostProxy.SetRetryHook(func(hostName string) {
		reg.HostProxyRetries.WithLabelValues(hostName).Inc()
	})

	var translator *translate.Client
	if cfg.LLMServiceURL != "" {
		translator = translate.New(cfg.LLMServiceURL)
	}

	auditLogger, err := audit.NewFileLogger(cfg.GetAuditLogPath(), audit.RotationConfig{
		MaxSize:    int64(cfg.GetAuditMaxSizeMB()) * 1024 * 1024,
		MaxBackups: cfg.GetAuditMaxBackups(),
	})
	if err != nil {
		return nil, fmt.Errorf("fleetd: opening audit log: %w", err)
	}
	audit.SetDefaultLogger(auditLogger)
	a.audit = auditLogger

	deps := apiserver.Deps{
		Lock:       &lockAdapter{m: lockMgr},
		Host:       &hostProxyAdapter{p: hostProxy},
		Trees:      graph,
		Cache:      cache,
		Phrases:    phrases,
		References: &referenceAdapter{s: refStore},
		Paths:      &pathAdapter{f: finder, reg: reg},
		Commands:   &registryAdapter{r: registry},
		Hosts:      a.hosts,
		Metrics:    reg,
	}
	if translator != nil {
		deps.Translator = &translatorAdapter{c: translator}
	}
	a.router = &deps
	return a, nil
}

// leaseChecker adapts lock.Manager onto hostproxy.LeaseChecker: a proxied
// command is only forwarded when the caller's session still owns the
// device's lease (§4.8).
type leaseChecker struct {
	m *lock.Manager
}

func (l *leaseChecker) Owns(ctx context.Context, hostName, deviceID, sessionID string) (bool, error) {
	lease, err := l.m.Get(ctx, hostName, deviceID)
	if err != nil {
		return false, err
	}
	return lease != nil && lease.SessionID == sessionID, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			util.Warnf("fleetd: shutdown: %v", err)
		}
	}
	if a.audit != nil {
		a.audit.Close()
	}
}
