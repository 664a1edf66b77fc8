package store

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwantia/opsreg/pkg/db/models"
	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/version"
)

// GetVersions returns every card of name in repository matching selector,
// ranked by version precedence. Cards with equal precedence keep the most
// recently registered first. An empty repository matches all repositories.
func (s *SQLStore) GetVersions(ctx context.Context, t models.RegistryType, name, repository, selector string) ([]models.Card, error) {
	if name == "" {
		return nil, fmt.Errorf("card name is required: %w", errs.ErrInvalidArgument)
	}

	bounds, err := version.ParseBounds(selector)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("name = ?", name)
	if repository != "" {
		query = query.Where("repository = ?", repository)
	}
	query = pinVersion(query, bounds)
	query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true})

	cards, err := findCards(query, t)
	if err != nil {
		return nil, s.wrapError(err, "get versions of '%s/%s'", repository, name)
	}

	cards = matchBounds(cards, bounds)
	rankCards(cards)
	return cards, nil
}

// LatestCard resolves selector to the single highest ranked card.
func (s *SQLStore) LatestCard(ctx context.Context, t models.RegistryType, name, repository, selector string) (models.Card, error) {
	cards, err := s.GetVersions(ctx, t, name, repository, selector)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("no %scard '%s/%s' matches '%s': %w", t, repository, name, selector, errs.ErrNotFound)
	}
	return cards[0], nil
}

// NextVersion bumps the latest version matching selector. Without a match
// the selector itself is completed to a version, 0.1.0 for an empty one.
func (s *SQLStore) NextVersion(ctx context.Context, t models.RegistryType, name, repository, selector string, bump version.BumpType, pre, build string) (version.Version, error) {
	bounds, err := version.ParseBounds(selector)
	if err != nil {
		return version.Version{}, err
	}

	cards, err := s.GetVersions(ctx, t, name, repository, selector)
	if err != nil {
		return version.Version{}, err
	}

	if len(cards) == 0 {
		next := bounds.Complete()
		next.Pre, next.Build = pre, build
		return version.Parse(next.String())
	}
	return version.Bump(cards[0].Base().ParsedVersion(), bump, pre, build)
}

// pinVersion narrows query on the indexed version components every match
// of bounds shares. The remaining checks happen in matchBounds.
func pinVersion(query *gorm.DB, bounds version.Bounds) *gorm.DB {
	columns := []string{"major", "minor", "patch"}
	for i, value := range bounds.Pinned() {
		query = query.Where(columns[i]+" = ?", value)
	}
	return query
}

func matchBounds(cards []models.Card, bounds version.Bounds) []models.Card {
	if bounds.Kind == version.BoundsAny {
		return cards
	}

	matched := cards[:0]
	for _, card := range cards {
		if bounds.Match(card.Base().ParsedVersion()) {
			matched = append(matched, card)
		}
	}
	return matched
}

// rankCards sorts by version precedence, highest first. The sort is stable
// so the incoming timestamp order breaks ties.
func rankCards(cards []models.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		return version.Compare(cards[i].Base().ParsedVersion(), cards[j].Base().ParsedVersion()) > 0
	})
}
