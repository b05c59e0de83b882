// Package app assembles the service's components from configuration.
package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adamscao/vpnaccess/internal/access"
	"github.com/adamscao/vpnaccess/internal/auth"
	"github.com/adamscao/vpnaccess/internal/ca"
	"github.com/adamscao/vpnaccess/internal/config"
	"github.com/adamscao/vpnaccess/internal/db"
	"github.com/adamscao/vpnaccess/internal/db/repository"
	"github.com/adamscao/vpnaccess/internal/policy"
	"github.com/adamscao/vpnaccess/internal/status"
)

// App holds the wired components
type App struct {
	Config      *config.Config
	DB          *db.DB
	Users       *repository.UserRepository
	Credentials *repository.CredentialRepository
	Connections *repository.ConnectionRepository
	Status      *status.FileSource
	Access      *access.Service

	closers []func() error
}

// New opens the database, runs migrations and builds the access service
func New(cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	sealer, err := auth.NewSealer(cfg.Encryption.Key)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize secret sealing: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          database,
		Users:       repository.NewUserRepository(database.DB),
		Credentials: repository.NewCredentialRepository(database.DB),
		Connections: repository.NewConnectionRepository(database.DB),
		Status:      status.NewFileSource(cfg.Status.Path, log.WithField("component", "status")),
	}

	gateway := ca.NewGateway(
		ca.ExecRunner{},
		cfg.CA.CreateScript,
		cfg.CA.RevokeScript,
		cfg.GetCATimeout(),
		log.WithField("component", "issuer"),
	)

	a.Access = access.NewService(access.Options{
		ClientPrefix: cfg.CA.ClientPrefix,
		TemplatePath: cfg.Profile.TemplatePath,
		ServerHost:   cfg.VPN.Host,
		ServerPort:   cfg.VPN.Port,
		Protocol:     cfg.VPN.Protocol,
		MFAEnabled:   cfg.MFA.Enabled,
	}, access.Deps{
		Credentials: a.Credentials,
		Connections: a.Connections,
		Users:       a.Users,
		Issuer:      gateway,
		MFA:         auth.NewTOTP(cfg.MFA.Issuer),
		Sealer:      sealer,
		Policy:      policy.NewValidator(cfg.Access.AllowedRoles),
		Status:      a.Status,
		Log:         log,
	})

	return a, nil
}

// OnClose registers fn to run after the database is closed
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases the database and runs the registered closers
func (a *App) Close() error {
	err := a.DB.Close()
	for _, fn := range a.closers {
		if cerr := fn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
