package main

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum password length requirement
	MinPasswordLength = 8
	// BcryptCost is the cost factor for bcrypt hashing (10 = ~100ms)
	BcryptCost = 10
)

var emailRegex = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// seed-operator hashes a password and prints the [[auth.operators]] block to
// paste into khive-gateway.toml. Operators live in configuration; there is no
// account database to insert into.
func main() {
	email := flag.String("email", "", "Email address (required)")
	password := flag.String("password", "", "Password (required, min 8 chars)")
	roles := flag.String("roles", "operator", "Comma-separated roles for the account")
	flag.Parse()

	if err := validateInputs(*email, *password); err != nil {
		log.Fatal("validation failed", "error", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), BcryptCost)
	if err != nil {
		log.Fatal("failed to hash password", "error", err)
	}

	roleList := splitRoles(*roles)
	if len(roleList) == 0 {
		log.Fatal("at least one role is required")
	}

	log.Info("operator credentials generated", "email", *email, "roles", roleList)
	fmt.Fprintln(os.Stderr, "Add this block to the auth section of khive-gateway.toml:")

	quoted := make([]string, len(roleList))
	for i, role := range roleList {
		quoted[i] = fmt.Sprintf("%q", role)
	}
	fmt.Printf("\n[[auth.operators]]\nemail = %q\npassword_hash = %q\nroles = [%s]\n",
		strings.ToLower(strings.TrimSpace(*email)), string(hashed), strings.Join(quoted, ", "))
}

// validateInputs validates operator input according to security requirements
func validateInputs(email, password string) error {
	// Validate email format
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}

	// Validate password strength
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}

	// Check for password complexity (at least one letter and one number)
	hasLetter := regexp.MustCompile(`[a-zA-Z]`).MatchString(password)
	hasNumber := regexp.MustCompile(`[0-9]`).MatchString(password)

	if !hasLetter || !hasNumber {
		return fmt.Errorf("password must contain at least one letter and one number")
	}

	return nil
}

func splitRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
