package main

import (
	"errors"

	"snapclaim/internal/cache"
	"snapclaim/internal/events"
	"snapclaim/internal/extraction"
	"snapclaim/internal/repository"
	"snapclaim/internal/service"
	"snapclaim/pkg/config"

	"gorm.io/gorm"
)

// deps is the wired Repository -> Service graph shared by serve and seed.
type deps struct {
	roleService         service.RoleService
	userService         service.UserService
	clientService       service.ClientService
	invoiceService      service.InvoiceService
	routeService        service.RouteService
	verificationService service.VerificationService
	auditService        service.AuditService
	statisticsService   service.StatisticsService

	closers []func() error
}

func (d *deps) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) build(db *gorm.DB, publisher events.Publisher) (*deps, error) {
	d := &deps{}

	var permCache cache.PermissionCache = cache.NewMemory(a.cfg.Redis.CacheTTL)
	if a.cfg.Redis.Enabled() {
		rdb, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rdb.Close)
		permCache = cache.NewRedis(rdb, a.cfg.Redis.CacheTTL)
		a.log.Info().Str("addr", a.cfg.Redis.Addr).Msg("permission cache backed by redis")
	}

	var extractor extraction.Extractor = extraction.Disabled{}
	if a.cfg.Extraction.APIKey != "" {
		extractor = extraction.NewAnthropicExtractor(a.cfg.Extraction.APIKey, a.cfg.Extraction.Model,
			a.cfg.Extraction.BaseURL, a.cfg.Extraction.Timeout)
	} else {
		a.log.Warn().Msg("ANTHROPIC_API_KEY not set, photo verification disabled")
	}

	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	clientRepo := repository.NewClientRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	routeRepo := repository.NewRouteRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	statsRepo := repository.NewStatisticsRepository(db)
	changes := repository.NewChangeApplier(db)

	d.roleService = service.NewRoleService(roleRepo, permCache, txManager, a.log)
	d.userService = service.NewUserService(userRepo, invoiceRepo, routeRepo, auditRepo, txManager, tokenConfig(a.cfg.JWT), a.log)
	d.clientService = service.NewClientService(clientRepo, auditRepo, txManager)
	d.invoiceService = service.NewInvoiceService(invoiceRepo, clientRepo, userRepo, routeRepo, auditRepo, txManager, publisher, a.log)
	d.routeService = service.NewRouteService(routeRepo, invoiceRepo, userRepo, changes, auditRepo, txManager, publisher, a.log)
	d.verificationService = service.NewVerificationService(invoiceRepo, auditRepo, extractor, publisher, a.cfg.Extraction.Timeout, a.log)
	d.auditService = service.NewAuditService(auditRepo)
	d.statisticsService = service.NewStatisticsService(statsRepo)

	return d, nil
}

func tokenConfig(cfg config.JWTConfig) service.TokenConfig {
	return service.TokenConfig{
		Secret:     []byte(cfg.Secret),
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	}
}

func adminRequest(cfg config.SeedConfig) service.CreateUserRequest {
	return service.CreateUserRequest{
		Username:    cfg.AdminUsername,
		DisplayName: "Administrator",
		Email:       cfg.AdminEmail,
		Password:    cfg.AdminPassword,
	}
}
