package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hmiyata/weave/internal/domain/model/reservation"
)

func newReserveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Manage exclusive resource reservations",
	}
	cmd.AddCommand(newReserveClaimCommand())
	cmd.AddCommand(newReserveReleaseCommand())
	cmd.AddCommand(newReserveExtendCommand())
	cmd.AddCommand(newReserveCheckCommand())
	cmd.AddCommand(newReserveListCommand())
	return cmd
}

func parseReservationType(s string) (reservation.Type, error) {
	switch reservation.Type(s) {
	case reservation.TypeWorkItem, reservation.TypePath, reservation.TypeModule:
		return reservation.Type(s), nil
	default:
		return "", fmt.Errorf("unknown reservation type %q (work_item, path, module)", s)
	}
}

func newReserveClaimCommand() *cobra.Command {
	var (
		resType string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "claim <resource-id> <holder-id>",
		Short: "Claim exclusive access to a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseReservationType(resType)
			if err != nil {
				return err
			}
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if ttl == 0 {
				ttl = globalConfig.ReservationTTL()
			}
			r, err := container.ReservationService().Claim(cmd.Context(), args[0], args[1], typ, ttl)
			if err != nil {
				return err
			}
			return newPresenter(cmd).Message("reserved %s for %s until %s",
				r.ResourceID(), r.HolderID(), r.ExpiresAt().Format(time.RFC3339))
		},
	}
	cmd.Flags().StringVar(&resType, "type", "work_item", "resource type: work_item, path, module")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "reservation lifetime (default from configuration)")
	return cmd
}

func newReserveReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <resource-id> <holder-id>",
		Short: "Release a reservation held by the given holder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if err := container.ReservationService().Release(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return newPresenter(cmd).Message("released %s", args[0])
		},
	}
}

func newReserveExtendCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "extend <resource-id> <holder-id>",
		Short: "Extend the lifetime of a held reservation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if ttl == 0 {
				ttl = globalConfig.ReservationTTL()
			}
			if err := container.ReservationService().Extend(cmd.Context(), args[0], args[1], ttl); err != nil {
				return err
			}
			return newPresenter(cmd).Message("extended %s by %s", args[0], ttl)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "new reservation lifetime (default from configuration)")
	return cmd
}

func newReserveCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <resource-id>",
		Short: "Report who holds a resource, if anyone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			holder, err := container.ReservationService().CheckBlocked(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if holder == "" {
				return newPresenter(cmd).Message("%s is free", args[0])
			}
			return newPresenter(cmd).Message("%s is held by %s", args[0], holder)
		},
	}
}

func newReserveListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			rs, err := container.ReservationService().List(cmd.Context())
			if err != nil {
				return err
			}
			return newPresenter(cmd).Reservations(rs)
		},
	}
}
