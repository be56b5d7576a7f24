//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/node-upgrader/internal/domain/upgrade"
)

// DetectActor gathers host and user information for the run journal.
// Under sudo the invoking user is reported rather than root.
func DetectActor() (*upgrade.Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	username := os.Getenv("SUDO_USER")
	if username == "" {
		currentUser, userErr := user.Current()
		if userErr != nil {
			return nil, fmt.Errorf("current user: %w", userErr)
		}

		username = currentUser.Username
	}

	return &upgrade.Actor{
		Hostname: hostname,
		Username: username,
	}, nil
}
