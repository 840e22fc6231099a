// Command gentoken prints an access token signed with $JWT_SECRET for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/testauth"
	"github.com/google/uuid"
)

func main() {
	var (
		role   = flag.String("role", "admin", "Token role: admin or participant")
		userID = flag.String("user", "", "Subject user ID (default: random UUID)")
		perms  = flag.String("permissions", "", "Comma-separated extra permissions, e.g. bookings:manage")
		url    = flag.String("url", "http://localhost:8080", "Server base URL for the example command")
	)
	flag.Parse()

	subject := *userID
	if subject == "" {
		subject = uuid.NewString()
	}
	var permissions []string
	for _, p := range strings.Split(*perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			permissions = append(permissions, p)
		}
	}

	token, err := testauth.DevJWTToken(*role, subject, permissions...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("JWT Token:")
	fmt.Println(token)
	fmt.Println("\nTest with:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' %s/bookings\n", token, strings.TrimRight(*url, "/"))
}
