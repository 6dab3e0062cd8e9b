package service

import (
	"weld/internal/domain"
	pkgstrings "weld/pkg/platform/strings"
)

// BuildView projects a materialized cluster (primary first, secondaries in
// (created_at, id) order) into the consolidated view. Pure function; the
// first-seen-wins dedupe keeps the primary's values in front. Slices are
// always non-nil so they serialize as [] rather than null.
func BuildView(members []domain.Contact) domain.ConsolidatedContact {
	view := domain.ConsolidatedContact{
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}
	if len(members) == 0 {
		return view
	}

	primary := members[0]
	view.PrimaryContactID = primary.ID

	emails := []string{primary.EmailValue()}
	phones := []string{primary.PhoneValue()}
	for _, member := range members[1:] {
		emails = append(emails, member.EmailValue())
		phones = append(phones, member.PhoneValue())
		view.SecondaryContactIDs = append(view.SecondaryContactIDs, member.ID)
	}

	view.Emails = pkgstrings.DedupeAndTrim(emails)
	view.PhoneNumbers = pkgstrings.DedupeAndTrim(phones)
	return view
}
