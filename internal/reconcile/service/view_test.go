package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weld/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestBuildView(t *testing.T) {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	link := int64(1)

	members := []domain.Contact{
		{ID: 1, Email: strPtr("a@x.com"), Phone: strPtr("111"), Precedence: domain.PrecedencePrimary, CreatedAt: base},
		{ID: 2, Email: strPtr("b@x.com"), Phone: strPtr("111"), LinkedID: &link, Precedence: domain.PrecedenceSecondary, CreatedAt: base.Add(time.Minute)},
		{ID: 3, Email: strPtr("a@x.com"), Phone: strPtr("222"), LinkedID: &link, Precedence: domain.PrecedenceSecondary, CreatedAt: base.Add(2 * time.Minute)},
		{ID: 4, Phone: strPtr("333"), LinkedID: &link, Precedence: domain.PrecedenceSecondary, CreatedAt: base.Add(3 * time.Minute)},
	}

	view := BuildView(members)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, view.Emails, "primary first, duplicates dropped, nils skipped")
	assert.Equal(t, []string{"111", "222", "333"}, view.PhoneNumbers)
	assert.Equal(t, []int64{2, 3, 4}, view.SecondaryContactIDs)
}

func TestBuildViewSingleton(t *testing.T) {
	members := []domain.Contact{
		{ID: 7, Email: strPtr("only@x.com"), Precedence: domain.PrecedencePrimary, CreatedAt: time.Now()},
	}

	view := BuildView(members)

	assert.Equal(t, int64(7), view.PrimaryContactID)
	assert.Equal(t, []string{"only@x.com"}, view.Emails)
	assert.Equal(t, []string{}, view.PhoneNumbers)
	assert.Equal(t, []int64{}, view.SecondaryContactIDs)
}

func TestBuildViewSerializesEmptyArrays(t *testing.T) {
	// The wire contract requires [] for absent values, never null.
	members := []domain.Contact{
		{ID: 1, Email: strPtr("a@x.com"), Precedence: domain.PrecedencePrimary, CreatedAt: time.Now()},
	}

	payload, err := json.Marshal(BuildView(members))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"primaryContatctId": 1,
		"emails": ["a@x.com"],
		"phoneNumbers": [],
		"secondaryContactIds": []
	}`, string(payload))
}
