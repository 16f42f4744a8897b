package statuslist

import "time"

// Type names follow the W3C Status List 2021 vocabulary so verifiers built
// against that draft can consume published lists.
const (
	TypeVerifiableCredential = "VerifiableCredential"
	TypeStatusListCredential = "StatusList2021Credential"
	TypeStatusListSubject    = "StatusList2021"

	// PurposeRevocation is the only status purpose this engine publishes.
	PurposeRevocation = "revocation"
)

// ListCredential is the signable document wrapping an encoded bitstring.
type ListCredential struct {
	Context      []string    `json:"@context"`
	ID           string      `json:"id"`
	Type         []string    `json:"type"`
	Issuer       string      `json:"issuer"`
	IssuanceDate string      `json:"issuanceDate"`
	Subject      ListSubject `json:"credentialSubject"`
}

// ListSubject carries the encoded list and its purpose.
type ListSubject struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	StatusPurpose string `json:"statusPurpose"`
	EncodedList   string `json:"encodedList"`
}

// BuildCredential assembles the list-credential document for a tenant's
// issuer DID. The caller supplies issuedAt so repeated builds over the same
// inputs are byte-identical once serialized.
func BuildCredential(issuerDID, listID, encoded string, issuedAt time.Time) ListCredential {
	return ListCredential{
		Context: []string{
			"https://www.w3.org/2018/credentials/v1",
			"https://w3id.org/vc/status-list/2021/v1",
		},
		ID:           listID,
		Type:         []string{TypeVerifiableCredential, TypeStatusListCredential},
		Issuer:       issuerDID,
		IssuanceDate: issuedAt.UTC().Format(time.RFC3339),
		Subject: ListSubject{
			ID:            listID + "#list",
			Type:          TypeStatusListSubject,
			StatusPurpose: PurposeRevocation,
			EncodedList:   encoded,
		},
	}
}
