// Command gen-token prints HS256 tokens accepted by the API in test and
// local auth modes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"selfcare-api/config"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "selfcare-user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 || *start < 1 {
		log.Fatal("count and start must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	cfg, err := config.Read()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	secret, err := sharedSecret(cfg.Auth)
	if err != nil {
		log.Fatal(err)
	}

	now := time.Now()
	tokens := make([]string, *count)
	for i := range tokens {
		tok, err := signToken(secret, userIDFor(i, *count, *prefix, *start, args), cfg.Auth.Audience, now, *ttl)
		if err != nil {
			log.Fatalf("sign token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func sharedSecret(cfg config.AuthConfig) ([]byte, error) {
	switch {
	case cfg.LocalMode != "" && cfg.LocalSecret != "":
		return []byte(cfg.LocalSecret), nil
	case cfg.TestSecret != "":
		return []byte(cfg.TestSecret), nil
	}
	return nil, errors.New("TEST_JWT_SECRET or LOCAL_AUTH_SHARED_SECRET must be set")
}

func userIDFor(i, count int, prefix string, start int, args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case count == 1:
		return prefix
	}
	return fmt.Sprintf("%s-%d", prefix, start+i)
}

func signToken(secret []byte, userID, audience string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
