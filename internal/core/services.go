package core

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/snapshot"
)

type Services struct {
	Destination  *DestinationService
	History      *HistoryService
	OAuthState   *OAuthStateService
	Session      *SessionService
	User         *UserService
	Orchestrator *Orchestrator
	Leases       *LeaseRegistry
}

// Options carries the tunables NewServices needs beyond its handles.
type Options struct {
	SecretsKeyHex  string
	AssetsDir      string
	AdapterTimeout time.Duration
	HistoryLimit   int
}

func NewServices(db DB, tdb snapshot.TxBeginner, registry *destination.Registry, opts Options, logger zerolog.Logger) (*Services, error) {
	key, err := hex.DecodeString(opts.SecretsKeyHex)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("SECRETS_KEY must be 64 hex characters")
	}

	builder := snapshot.NewBuilder(tdb, opts.AssetsDir, logger)
	restorer := snapshot.NewRestorer(tdb, opts.AssetsDir, logger)
	leases := NewLeaseRegistry()

	destinations := NewDestinationService(db, registry, key, opts.AdapterTimeout)
	history := NewHistoryService(db, opts.HistoryLimit)
	sessions := NewSessionService(db)

	return &Services{
		Destination: destinations,
		History:     history,
		OAuthState:  NewOAuthStateService(db),
		Session:     sessions,
		User:        NewUserService(db),
		Orchestrator: NewOrchestrator(destinations, history, builder, restorer,
			sessions, registry, leases, opts.AdapterTimeout, logger),
		Leases: leases,
	}, nil
}
