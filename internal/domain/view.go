package domain

// ConsolidatedContact is the externally visible projection of one cluster.
// The primaryContatctId field name is part of the wire contract and keeps its
// historical spelling for compatibility.
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}
