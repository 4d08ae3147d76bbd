package app

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"idsboard/internal/repo"
)

// ResolveUser picks the acting user for CLI commands and makes sure a
// profile row exists. It prefers explicit overrides, then the
// IDSBOARD_USER environment variable, then the OS username.
func ResolveUser(ctx context.Context, userOverride, emailOverride string, r repo.Repo) (string, error) {
	userID := strings.TrimSpace(userOverride)
	if userID == "" {
		userID = strings.TrimSpace(os.Getenv("IDSBOARD_USER"))
	}
	if userID == "" {
		if u, err := user.Current(); err == nil {
			userID = u.Username
		}
	}
	if userID == "" {
		return "", fmt.Errorf("user not specified; use --user or set IDSBOARD_USER")
	}
	email := strings.TrimSpace(emailOverride)
	if email == "" {
		email = userID + "@local"
	}
	if err := r.EnsureProfile(ctx, userID, email); err != nil {
		return "", fmt.Errorf("ensure profile: %w", err)
	}
	return userID, nil
}
