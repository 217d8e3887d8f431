// Command token mints a credential accepted by the GoChat server, for local
// development and smoke testing. It signs with JWT_SECRET and JWT_ISSUER.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/chat"
)

func main() {
	id := flag.String("id", "", "identity ID (required)")
	name := flag.String("name", "", "display name (defaults to the ID)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set")
		os.Exit(1)
	}
	if err := chat.ValidateIdentityID(*id); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -id: %v\n", err)
		os.Exit(2)
	}
	if *name == "" {
		*name = *id
	}

	issuer := auth.NewIssuer(auth.JWTConfig{
		SecretKey: secret,
		Issuer:    os.Getenv("JWT_ISSUER"),
	}, *ttl)

	token, err := issuer.Issue(chat.Identity{ID: *id, Name: *name})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
