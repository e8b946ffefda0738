package auth

import (
	"fmt"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
)

// issueToken is the single issuance point shared by every login flow.
func issueToken(tokens *security.TokenService, user *models.User) (string, error) {
	token, err := tokens.Issue(user.ID, user.Role, 0)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
