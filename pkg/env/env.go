// Package env reads process environment variables with fallbacks.
package env

import "os"

// Get reads key from the process environment, falling back when the variable
// is unset or empty.
func Get(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
