package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/fenggwsx/RoomChat/internal/auth"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	role := flag.String("role", string(protocol.RoleCustomer), "role: customer, company or worker")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}
	if !protocol.Role(*role).Valid() {
		log.Fatalf("unknown role %q", *role)
	}

	token, err := auth.NewToken(config.LoadJWTConfig(), *userID, protocol.Role(*role))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
