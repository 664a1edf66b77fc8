package store

import (
	"context"

	"github.com/mwantia/opsreg/pkg/db/models"
	"github.com/mwantia/opsreg/pkg/version"
)

// CardStore defines the card registry operations
type CardStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// Card operations
	InsertCard(ctx context.Context, card models.Card) error
	UpdateCard(ctx context.Context, t models.RegistryType, uid string, update CardUpdate) (models.Card, error)
	GetCard(ctx context.Context, t models.RegistryType, uid string) (models.Card, error)
	DeleteCard(ctx context.Context, t models.RegistryType, uid string) error
	QueryCards(ctx context.Context, t models.RegistryType, args CardQueryArgs) ([]models.Card, error)

	// Version resolution
	GetVersions(ctx context.Context, t models.RegistryType, name, repository, selector string) ([]models.Card, error)
	LatestCard(ctx context.Context, t models.RegistryType, name, repository, selector string) (models.Card, error)
	NextVersion(ctx context.Context, t models.RegistryType, name, repository, selector string, bump version.BumpType, pre, build string) (version.Version, error)

	// Listing
	UniqueRepositories(ctx context.Context, t models.RegistryType) ([]string, error)
	QueryStats(ctx context.Context, t models.RegistryType, search string) (Stats, error)
	NextProjectID(ctx context.Context, name, repository string) (int, error)

	// Run operations
	InsertRunMetrics(ctx context.Context, metrics []models.RunMetric) error
	GetRunMetrics(ctx context.Context, runUID string, names ...string) ([]models.RunMetric, error)
	InsertRunParameters(ctx context.Context, params []models.RunParameter) error
	GetRunParameters(ctx context.Context, runUID string, names ...string) ([]models.RunParameter, error)
	InsertHardwareMetrics(ctx context.Context, metrics []models.HardwareMetrics) error
	GetHardwareMetrics(ctx context.Context, runUID string) ([]models.HardwareMetrics, error)
}

// CardUpdate lists the fields a registered card may change. Nil and empty
// fields are left untouched.
type CardUpdate struct {
	Contact *string
	Tags    map[string]string
	// Links sets link columns such as runcard_uid, see models.Links.
	Links map[string]string
}

// CardQueryArgs filters QueryCards. Zero values disable a filter.
type CardQueryArgs struct {
	UID        string
	Name       string
	Repository string
	// Version is a selector as accepted by version.ParseBounds.
	Version string
	// MinDate and MaxDate bound the card date, formatted 2006-01-02.
	MinDate string
	MaxDate string
	// Tags must all match.
	Tags  map[string]string
	Limit int
	// SortByTimestamp orders by registration time instead of version
	// precedence. Both orders are descending.
	SortByTimestamp bool
}

// Stats summarises a registry table.
type Stats struct {
	Names        int64 `json:"nbr_names"`
	Versions     int64 `json:"nbr_versions"`
	Repositories int64 `json:"nbr_repositories"`
}
