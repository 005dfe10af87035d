//go:build permdebug

package permissions

import "fmt"

// precondition panics so caller bugs surface during development.
func precondition(msg string, args ...any) {
	panic(fmt.Sprintf("permissions: precondition violated: %s %v", msg, args))
}
