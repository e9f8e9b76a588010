// Package network holds the routing rules of the pharmacy network: which
// locations may send stock to which, and how a new transfer starts its life.
package network

import (
	"errors"
	"fmt"
	"sort"

	"medtrack/m/domain"
)

// ErrInvalidRoute is returned when a transfer breaks the routing rules.
var ErrInvalidRoute = errors.New("invalid transfer route")

func routeError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRoute, reason)
}

// CanTransfer checks a source/destination pair against the routing table:
//
//	WARD   -> sibling WARD under the same hub, or its parent HUB
//	REMOTE -> any other REMOTE, or its parent HUB
//	HUB    -> its own child locations, or any other HUB
func CanTransfer(from, to domain.Location) error {
	if from.ID == to.ID {
		return routeError("cannot transfer to the same location")
	}

	switch from.Type {
	case domain.LocationWard:
		switch {
		case to.Type == domain.LocationWard:
			if from.ParentHubID == nil || !to.ChildOf(*from.ParentHubID) {
				return routeError("wards can only transfer to wards under the same hub")
			}
			return nil
		case to.Type == domain.LocationHub:
			if !from.ChildOf(to.ID) {
				return routeError("wards can only transfer to their own parent hub")
			}
			return nil
		}
		return routeError("wards cannot transfer to remote sites")

	case domain.LocationRemote:
		switch to.Type {
		case domain.LocationRemote:
			return nil
		case domain.LocationHub:
			if !from.ChildOf(to.ID) {
				return routeError("remote sites can only transfer to their parent hub")
			}
			return nil
		}
		return routeError("remote sites cannot transfer to wards")

	case domain.LocationHub:
		if to.Type == domain.LocationHub || to.ChildOf(from.ID) {
			return nil
		}
		return routeError("hubs can only transfer to their own wards and remote sites, or to another hub")
	}

	return routeError(fmt.Sprintf("unknown location type %q", from.Type))
}

// AllowedDestinations filters all down to the valid targets for from,
// ordered by type then name.
func AllowedDestinations(from domain.Location, all []domain.Location) []domain.Location {
	out := make([]domain.Location, 0, len(all))
	for _, to := range all {
		if CanTransfer(from, to) == nil {
			out = append(out, to)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// NeedsApproval reports whether a pharmacist at the other hub must sign off
// before stock leaves. Only hub-to-hub moves are gated.
func NeedsApproval(from, to domain.Location) bool {
	return from.Type == domain.LocationHub && to.Type == domain.LocationHub && from.ID != to.ID
}

// InitialStatus is the state a freshly created transfer starts in.
// A hub handing stock to one of its own wards completes on the spot.
func InitialStatus(from, to domain.Location) string {
	switch {
	case NeedsApproval(from, to):
		return domain.TransferPending
	case from.Type == domain.LocationHub && to.Type == domain.LocationWard && to.ChildOf(from.ID):
		return domain.TransferCompleted
	default:
		return domain.TransferInTransit
	}
}

// ApprovingLocation picks the hub whose pharmacist must approve: the
// destination for a push, the source for a pull, and the destination when the
// creator sits at neither end.
func ApprovingLocation(creatorLocationID, fromID, toID int64) int64 {
	switch creatorLocationID {
	case fromID:
		return toID
	case toID:
		return fromID
	default:
		return toID
	}
}
