// Package issuance creates badge assertions: it signs the credential
// document, stores it immutably, and drives the queue-fed pipeline with
// idempotency keys for at-least-once delivery.
package issuance

import (
	"strconv"
	"time"
)

// W3C vocabulary for badge credentials with a status list entry.
const (
	credentialsContext = "https://www.w3.org/2018/credentials/v1"
	statusListContext  = "https://w3id.org/vc/status-list/2021/v1"
	openBadgesContext  = "https://purl.imsglobal.org/spec/ob/v3p0/context.json"

	typeVerifiableCredential = "VerifiableCredential"
	typeOpenBadgeCredential  = "OpenBadgeCredential"
	typeStatusListEntry      = "StatusList2021Entry"
	typeAchievementSubject   = "AchievementSubject"

	purposeRevocation = "revocation"
)

// BadgeCredential is the unsigned badge assertion document. The signed form
// is a VC-JWT wrapping this payload.
type BadgeCredential struct {
	Context           []string     `json:"@context"`
	ID                string       `json:"id"`
	Type              []string     `json:"type"`
	Issuer            string       `json:"issuer"`
	IssuanceDate      string       `json:"issuanceDate"`
	CredentialSubject BadgeSubject `json:"credentialSubject"`
	CredentialStatus  StatusRef    `json:"credentialStatus"`
}

// BadgeSubject binds the recipient to the achievement.
type BadgeSubject struct {
	ID          string      `json:"id"`
	Type        []string    `json:"type"`
	Achievement Achievement `json:"achievement"`
}

// Achievement names the badge template being asserted.
type Achievement struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// StatusRef points verifiers at the slot in the tenant's revocation list
// that governs this credential.
type StatusRef struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	StatusPurpose        string `json:"statusPurpose"`
	StatusListIndex      string `json:"statusListIndex"`
	StatusListCredential string `json:"statusListCredential"`
}

// BuildBadgeCredential assembles the unsigned badge document for one
// assertion slot.
func BuildBadgeCredential(issuerDID, credentialID, recipientID, achievementID, listURL string, statusIndex int, issuedAt time.Time) BadgeCredential {
	index := strconv.Itoa(statusIndex)
	return BadgeCredential{
		Context:      []string{credentialsContext, openBadgesContext, statusListContext},
		ID:           credentialID,
		Type:         []string{typeVerifiableCredential, typeOpenBadgeCredential},
		Issuer:       issuerDID,
		IssuanceDate: issuedAt.UTC().Format(time.RFC3339),
		CredentialSubject: BadgeSubject{
			ID:   recipientID,
			Type: []string{typeAchievementSubject},
			Achievement: Achievement{
				ID:   achievementID,
				Type: "Achievement",
			},
		},
		CredentialStatus: StatusRef{
			ID:                   listURL + "#" + index,
			Type:                 typeStatusListEntry,
			StatusPurpose:        purposeRevocation,
			StatusListIndex:      index,
			StatusListCredential: listURL,
		},
	}
}
