package client

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mwantia/opsreg/pkg/db/models"
	"github.com/mwantia/opsreg/pkg/db/store"
	"github.com/mwantia/opsreg/pkg/version"
)

func NewCardsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Query the card registry",
		Long:  "Query registered data, model, run, audit, pipeline and project cards.",
	}

	cmd.AddCommand(newCardsListCommand())
	cmd.AddCommand(newCardsLatestCommand())
	cmd.AddCommand(newCardsNextVersionCommand())
	cmd.AddCommand(newCardsRepositoriesCommand())
	cmd.AddCommand(newCardsStatsCommand())

	return cmd
}

func newCardsListCommand() *cobra.Command {
	var args store.CardQueryArgs

	cmd := &cobra.Command{
		Use:   "list <registry>",
		Short: "List cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			t, err := models.ParseRegistryType(positional[0])
			if err != nil {
				return err
			}

			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer registry.Close()

			cards, err := registry.QueryCards(cmd.Context(), t, args)
			if err != nil {
				return err
			}
			return printCards(cmd.OutOrStdout(), cards)
		},
	}

	cmd.Flags().StringVar(&args.UID, "uid", "", "Card uid")
	cmd.Flags().StringVar(&args.Name, "name", "", "Card name")
	cmd.Flags().StringVar(&args.Repository, "repository", "", "Card repository")
	cmd.Flags().StringVar(&args.Version, "version", "", "Version selector, e.g. 1.*, ^1.2.0 or ~1.2")
	cmd.Flags().StringVar(&args.MinDate, "min-date", "", "Earliest card date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&args.MaxDate, "max-date", "", "Latest card date (YYYY-MM-DD)")
	cmd.Flags().StringToStringVar(&args.Tags, "tag", nil, "Required tag as key=value, repeatable")
	cmd.Flags().IntVar(&args.Limit, "limit", 0, "Maximum number of cards")
	cmd.Flags().BoolVar(&args.SortByTimestamp, "sort-by-timestamp", false, "Order by registration time instead of version")

	return cmd
}

func newCardsLatestCommand() *cobra.Command {
	var repository, selector string

	cmd := &cobra.Command{
		Use:   "latest <registry> <name>",
		Short: "Resolve the latest matching card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseRegistryType(args[0])
			if err != nil {
				return err
			}

			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer registry.Close()

			card, err := registry.LatestCard(cmd.Context(), t, args[1], repository, selector)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(card)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "Card repository")
	cmd.Flags().StringVar(&selector, "version", "", "Version selector")

	return cmd
}

func newCardsNextVersionCommand() *cobra.Command {
	var repository, selector, bump, pre, build string

	cmd := &cobra.Command{
		Use:   "next-version <registry> <name>",
		Short: "Print the version the next card should use",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseRegistryType(args[0])
			if err != nil {
				return err
			}
			kind, err := version.ParseBumpType(bump)
			if err != nil {
				return err
			}

			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer registry.Close()

			next, err := registry.NextVersion(cmd.Context(), t, args[1], repository, selector, kind, pre, build)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "", "Card repository")
	cmd.Flags().StringVar(&selector, "version", "", "Version selector")
	cmd.Flags().StringVar(&bump, "bump", "minor", "major, minor, patch, pre, build or pre_build")
	cmd.Flags().StringVar(&pre, "pre", "", "Pre-release tag")
	cmd.Flags().StringVar(&build, "build", "", "Build tag")

	return cmd
}

func newCardsRepositoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repositories <registry>",
		Short: "List repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseRegistryType(args[0])
			if err != nil {
				return err
			}

			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer registry.Close()

			repositories, err := registry.UniqueRepositories(cmd.Context(), t)
			if err != nil {
				return err
			}
			for _, repository := range repositories {
				fmt.Fprintln(cmd.OutOrStdout(), repository)
			}
			return nil
		},
	}
}

func newCardsStatsCommand() *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "stats <registry>",
		Short: "Count names, versions and repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseRegistryType(args[0])
			if err != nil {
				return err
			}

			registry, err := openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer registry.Close()

			stats, err := registry.QueryStats(cmd.Context(), t, search)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "names: %d\nversions: %d\nrepositories: %d\n",
				stats.Names, stats.Versions, stats.Repositories)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only count names or repositories containing this text")

	return cmd
}

func printCards(out io.Writer, cards []models.Card) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tREPOSITORY\tNAME\tVERSION\tDATE")
	for _, card := range cards {
		base := card.Base()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", base.UID, base.Repository, base.Name, base.Version, base.Date)
	}
	return w.Flush()
}
