// loadtest drives a running chat server with simulated marketplace
// users. The referenced user ids must already exist in the server's
// database (seed them before running).
//
//	loadtest -scenario chat -pairs 50 -duration 30s
//	loadtest -scenario saturate -users 5000
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type options struct {
	baseURL   string
	wsURL     string
	secret    string
	scenario  string
	pairs     int
	users     int
	firstUser int64
	duration  time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&opts.secret, "secret", "dev-secret", "JWT signing secret shared with the server")
	flag.StringVar(&opts.scenario, "scenario", "chat", "scenario: chat | saturate")
	flag.IntVar(&opts.pairs, "pairs", 10, "buyer/seller pairs for the chat scenario")
	flag.IntVar(&opts.users, "users", 1000, "connections for the saturate scenario")
	flag.Int64Var(&opts.firstUser, "first-user", 1, "first seeded user id")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "how long to run")
	flag.Parse()

	opts.wsURL = "ws" + opts.baseURL[len("http"):] + "/ws"

	var err error
	switch opts.scenario {
	case "chat":
		err = runChat(opts)
	case "saturate":
		err = runSaturate(opts)
	default:
		err = fmt.Errorf("unknown scenario %q", opts.scenario)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

// mintToken signs an access token for a seeded user, matching the
// server's claim shape.
func mintToken(secret string, userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     strconv.FormatInt(userID, 10),
		"iat":     now.Unix(),
		"exp":     now.Add(2 * time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
