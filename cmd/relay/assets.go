package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/punchamoorthee/claimrelay/internal/allocator"
	"github.com/spf13/cobra"
)

func distributeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "distribute",
		Short: "Rebind every asset round-robin across the registered Target rooms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openState(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := allocator.New(st.assets, st.rooms, logger).Distribute(cmd.Context())
			if err != nil {
				return fmt.Errorf("distribute: %w", err)
			}

			rooms := make([]int64, 0, len(counts))
			for room := range counts {
				rooms = append(rooms, room)
			}
			sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
			for _, room := range rooms {
				fmt.Fprintf(cmd.OutOrStdout(), "room %d: %d assets\n", room, counts[room])
			}
			return nil
		},
	}
}

func rebindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebind <asset-id> <room-id>",
		Short: "Bind one asset to a Target room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid room id %q: %w", args[1], err)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openState(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := allocator.New(st.assets, st.rooms, logger).Rebind(cmd.Context(), args[0], roomID); err != nil {
				return fmt.Errorf("rebind %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "asset %s bound to room %d\n", args[0], roomID)
			return nil
		},
	}
}
