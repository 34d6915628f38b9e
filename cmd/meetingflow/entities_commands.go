package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/entities"
	"meetingflow/internal/store"
)

func newEntitiesCommand(ctx *commandContext) *cobra.Command {
	entitiesCmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities and override relationships",
	}
	entitiesCmd.AddCommand(newEntitiesListCommand(ctx))
	entitiesCmd.AddCommand(newEntitiesOverrideCommand(ctx))
	return entitiesCmd
}

func newEntitiesListCommand(ctx *commandContext) *cobra.Command {
	var typeFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known people, companies and technologies",
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind entities.Type
			if value := strings.TrimSpace(typeFlag); value != "" {
				parsed, ok := entities.ParseType(value)
				if !ok {
					return fmt.Errorf("unknown entity type %q", value)
				}
				kind = parsed
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				list, err := st.ListEntities(cmd.Context(), kind)
				if err != nil {
					return err
				}
				if jsonOutput {
					if list == nil {
						list = []entities.Record{}
					}
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No entities")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, rec := range list {
					relationship := rec.Relationship
					if rec.RelationshipPinned {
						relationship += " (pinned)"
					}
					rows = append(rows, []string{
						shortID(rec.ID),
						string(rec.Type),
						rec.CanonicalName,
						relationship,
						rec.RelationshipConfidence.String(),
						strconv.Itoa(rec.MentionCount),
						ago(rec.LastSeen),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Name", "Relationship", "Confidence", "Mentions", "Last seen"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typeFlag, "type", "", "Filter by type (person, company, technology)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func newEntitiesOverrideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "override <id> <relationship>",
		Short: "Pin an entity's relationship or technology status",
		Long: "People and companies accept colleague, client, vendor, partner, prospect or unknown. " +
			"Technologies accept in_use, implementing, evaluating or mentioned. Pinned values are " +
			"never changed by automatic classification.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResolver(func(st *store.Store, resolver *entities.Resolver) error {
				id, err := resolveEntityID(cmd, st, args[0])
				if err != nil {
					return err
				}
				rec, err := resolver.OverrideRelationship(cmd.Context(), id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", rec.CanonicalName, rec.Type, rec.Relationship)
				return nil
			})
		},
	}
}

func resolveEntityID(cmd *cobra.Command, st *store.Store, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	list, err := st.ListEntities(cmd.Context(), "")
	if err != nil {
		return "", err
	}
	var match string
	for _, rec := range list {
		if rec.ID == ref {
			return rec.ID, nil
		}
		if strings.HasPrefix(rec.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("entity id prefix %s is ambiguous", ref)
			}
			match = rec.ID
		}
	}
	if match == "" {
		return ref, nil
	}
	return match, nil
}
