package auth

import (
	"encoding/binary"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/router-for-me/SchoolAuth/internal/models"
)

// webAuthnUser adapts a principal and its stored credentials to the WebAuthn user interface.
type webAuthnUser struct {
	user        *models.User
	displayName string
	credentials []webauthn.Credential
}

// newWebAuthnUser builds the adapter from stored credential rows.
func newWebAuthnUser(user *models.User, rows []models.WebAuthnCredential) *webAuthnUser {
	out := &webAuthnUser{user: user, displayName: user.DisplayName()}
	for _, row := range rows {
		out.credentials = append(out.credentials, credentialFromRow(row))
	}
	return out
}

// userHandle encodes a user id as the 8-byte WebAuthn user handle.
func userHandle(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// userIDFromHandle decodes a user handle produced by userHandle.
func userIDFromHandle(handle []byte) (uint64, bool) {
	if len(handle) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(handle), true
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return userHandle(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.RollNumber
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// credentialFromRow rebuilds the library credential from a stored row.
func credentialFromRow(row models.WebAuthnCredential) webauthn.Credential {
	var transports []protocol.AuthenticatorTransport
	for _, transport := range strings.Split(row.Transports, ",") {
		if transport = strings.TrimSpace(transport); transport != "" {
			transports = append(transports, protocol.AuthenticatorTransport(transport))
		}
	}
	return webauthn.Credential{
		ID:              row.CredentialID,
		PublicKey:       row.PublicKey,
		AttestationType: row.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: row.BackupEligible,
			BackupState:    row.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    row.AAGUID,
			SignCount: row.SignCount,
		},
	}
}

// rowFromCredential converts a verified credential into a row owned by userID.
func rowFromCredential(userID uint64, credential *webauthn.Credential) *models.WebAuthnCredential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return &models.WebAuthnCredential{
		UserID:          userID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		Transports:      strings.Join(transports, ","),
		SignCount:       credential.Authenticator.SignCount,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}
}
