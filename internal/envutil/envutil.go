package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode, where cookies are
// allowed over plain HTTP on localhost.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("SIGNIN_GATE_ENV"))
	return env == "development" || env == "dev"
}
